package blocklist

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfgWithBlockURLs(urls ...string) *NodeConfig {
	return &NodeConfig{Groups: []Group{{Name: "default", BlockListURLs: urls}}}
}

func TestFingerprintIgnoresOrderAndDuplicates(t *testing.T) {
	a := &NodeConfig{Groups: []Group{
		{Name: "one", BlockListURLs: []string{"https://x.example/a", "https://x.example/b"}},
	}}
	b := &NodeConfig{Groups: []Group{
		{Name: "one", BlockListURLs: []string{"https://x.example/b"}},
		{Name: "two", AllowListURLs: []string{"https://x.example/a", "https://x.example/a"}},
	}}

	// Same URL set, different groups/roles/order: identical fingerprint.
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := cfgWithBlockURLs("https://x.example/a", "https://x.example/c")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestFingerprintIgnoresManualEntries(t *testing.T) {
	a := &NodeConfig{Groups: []Group{{Name: "g", Blocked: []string{"x.com"}, BlockListURLs: []string{"https://l.example/1"}}}}
	b := &NodeConfig{Groups: []Group{{Name: "g", Blocked: []string{"y.com", "z.com"}, BlockListURLs: []string{"https://l.example/1"}}}}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestReconcileConfigFirstObservationKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "example.com\n")
	}))
	defer srv.Close()

	s := NewStore(Options{})
	defer s.Close()
	ctx := context.Background()

	// Warm cache first (e.g. rehydrated from disk before config was read).
	s.Domains(ctx, "node-1", srv.URL)

	invalidated := s.ReconcileConfig("node-1", cfgWithBlockURLs(srv.URL))
	assert.False(t, invalidated, "first fingerprint observation must not wipe a warm cache")

	s.mu.RLock()
	assert.Len(t, s.nodes["node-1"].domains, 1)
	s.mu.RUnlock()
}

func TestReconcileConfigDriftClearsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "example.com\n")
	}))
	defer srv.Close()

	s := NewStore(Options{})
	defer s.Close()
	ctx := context.Background()

	require.False(t, s.ReconcileConfig("node-1", cfgWithBlockURLs(srv.URL)))
	s.Domains(ctx, "node-1", srv.URL)
	s.Patterns(ctx, "node-1", srv.URL+"/re.txt")

	// Unchanged config: no-op.
	assert.False(t, s.ReconcileConfig("node-1", cfgWithBlockURLs(srv.URL)))
	s.mu.RLock()
	assert.Len(t, s.nodes["node-1"].domains, 1)
	s.mu.RUnlock()

	// Changed URL set: both maps cleared.
	assert.True(t, s.ReconcileConfig("node-1", cfgWithBlockURLs(srv.URL+"/other.txt")))
	s.mu.RLock()
	assert.Empty(t, s.nodes["node-1"].domains)
	assert.Empty(t, s.nodes["node-1"].regexes)
	s.mu.RUnlock()
}

func TestReconcileConfigIsPerNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "example.com\n")
	}))
	defer srv.Close()

	s := NewStore(Options{})
	defer s.Close()
	ctx := context.Background()

	require.False(t, s.ReconcileConfig("node-1", cfgWithBlockURLs(srv.URL)))
	require.False(t, s.ReconcileConfig("node-2", cfgWithBlockURLs(srv.URL)))
	s.Domains(ctx, "node-1", srv.URL)
	s.Domains(ctx, "node-2", srv.URL)

	s.ReconcileConfig("node-1", cfgWithBlockURLs(srv.URL+"/changed.txt"))

	s.mu.RLock()
	assert.Empty(t, s.nodes["node-1"].domains)
	assert.Len(t, s.nodes["node-2"].domains, 1)
	s.mu.RUnlock()
}
