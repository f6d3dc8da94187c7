package upstream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `nodes:
  node-b:
    groups:
      - name: default
        blockListUrls: ["https://lists.example/hosts.txt"]
  node-a:
    updateIntervalHours: 6
    groups:
      - name: default
        blocked: ["evil.example.com"]
`

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "listforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSourceLoadsAndLists(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), sampleFile)

	fs, err := NewFileSource(path)
	require.NoError(t, err)
	defer fs.Close()
	ctx := context.Background()

	nodes, err := fs.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "node-a", nodes[0].ID, "nodes are listed sorted by id")
	assert.Equal(t, "node-b", nodes[1].ID)

	cfg, err := fs.Config(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 6.0, cfg.UpdateIntervalHours)
	assert.Equal(t, []string{"evil.example.com"}, cfg.Groups[0].Blocked)

	_, err = fs.Config(ctx, "ghost")
	assert.Error(t, err)
}

func TestFileSourceReloadsOnChange(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), sampleFile)

	fs, err := NewFileSource(path)
	require.NoError(t, err)
	defer fs.Close()
	ctx := context.Background()

	updated := `nodes:
  node-c:
    groups:
      - name: default
        allowListUrls: ["https://lists.example/allow.txt"]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		_, err := fs.Config(ctx, "node-c")
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)

	_, err = fs.Config(ctx, "node-a")
	assert.Error(t, err, "removed nodes disappear after reload")
}

func TestFileSourceRejectsBrokenFile(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "nodes: [not: a: map")

	_, err := NewFileSource(path)
	assert.Error(t, err)
}

func TestFileSourceCloseIsIdempotent(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), sampleFile)

	fs, err := NewFileSource(path)
	require.NoError(t, err)
	assert.NoError(t, fs.Close())
	assert.NoError(t, fs.Close())
}
