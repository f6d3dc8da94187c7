package upstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dnsdash/listforge/blocklist"
)

// FileSource serves blocking configurations from a local YAML file and
// reloads it automatically on change. Intended for single-box deployments
// and development, where there is no remote admin API to proxy.
//
// File shape:
//
//	nodes:
//	  node-1:
//	    updateIntervalHours: 12
//	    groups:
//	      - name: default
//	        blockListUrls: ["https://example.com/hosts.txt"]
type FileSource struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	configs map[string]*blocklist.NodeConfig

	done      chan struct{}
	closeOnce sync.Once
}

type fileDocument struct {
	Nodes map[string]*blocklist.NodeConfig `yaml:"nodes"`
}

// NewFileSource loads the file and starts watching its directory for
// changes (watching the directory is more reliable than the file itself).
func NewFileSource(path string) (*FileSource, error) {
	fs := &FileSource{
		path: path,
		done: make(chan struct{}),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fs.watcher = watcher
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	go fs.watchLoop()
	return fs, nil
}

func (f *FileSource) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	doc := &fileDocument{}
	if err := yaml.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("parsing %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.configs = doc.Nodes
	f.mu.Unlock()
	return nil
}

func (f *FileSource) watchLoop() {
	filename := filepath.Base(f.path)
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// Small delay to let writes complete
				time.Sleep(100 * time.Millisecond)
				if err := f.load(); err != nil {
					log.Warnf("config file %s: reload failed: %v", f.path, err)
				} else {
					log.Infof("config file %s: reloaded", f.path)
				}
			}
		case err, ok := <-f.watcher.Errors:
			if ok && err != nil {
				log.Warnf("config file %s: watcher error: %v", f.path, err)
			}
		}
	}
}

// Config implements blocklist.ConfigSource.
func (f *FileSource) Config(ctx context.Context, nodeID string) (*blocklist.NodeConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg, ok := f.configs[nodeID]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", nodeID)
	}
	return cfg, nil
}

// ListNodes implements blocklist.NodeRegistry.
func (f *FileSource) ListNodes(ctx context.Context) ([]blocklist.Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	nodes := make([]blocklist.Node, 0, len(f.configs))
	for id := range f.configs {
		nodes = append(nodes, blocklist.Node{ID: id})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// Close stops the file watcher. Safe to call multiple times.
func (f *FileSource) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}
