// Package upstream implements the collaborators the blocklist engine
// consumes: the per-node blocking-configuration source (the third-party DNS
// server's admin HTTP API, or a local file for single-box deployments) and
// the node registry.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/dnsdash/listforge/blocklist"
)

var log = logging.Logger("upstream")

// Endpoint describes how to reach one DNS-serving node's admin API.
type Endpoint struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name,omitempty"`
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"`
}

const configPath = "/api/apps/blocking/config"

// HTTPSource fetches a node's blocking configuration from its admin API.
// It doubles as the node registry since the endpoint set is the node set.
type HTTPSource struct {
	endpoints map[string]Endpoint
	order     []string
	client    *http.Client
}

// NewHTTPSource builds a source over a static endpoint set.
func NewHTTPSource(endpoints []Endpoint, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &HTTPSource{
		endpoints: make(map[string]Endpoint, len(endpoints)),
		client:    &http.Client{Timeout: timeout},
	}
	for _, ep := range endpoints {
		if _, dup := s.endpoints[ep.ID]; dup {
			log.Warnf("duplicate node id %q in endpoint config, keeping first", ep.ID)
			continue
		}
		s.endpoints[ep.ID] = ep
		s.order = append(s.order, ep.ID)
	}
	return s
}

// Config implements blocklist.ConfigSource. An unreachable node or an
// unparsable document is a hard error; the engine treats the node as
// configuration-less for that call.
func (s *HTTPSource) Config(ctx context.Context, nodeID string) (*blocklist.NodeConfig, error) {
	ep, ok := s.endpoints[nodeID]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", nodeID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+configPath, nil)
	if err != nil {
		return nil, err
	}
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node %s: unexpected status code: %d", nodeID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	cfg := &blocklist.NodeConfig{}
	if err := json.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("node %s: decoding blocking config: %w", nodeID, err)
	}
	return cfg, nil
}

// ListNodes implements blocklist.NodeRegistry.
func (s *HTTPSource) ListNodes(ctx context.Context) ([]blocklist.Node, error) {
	nodes := make([]blocklist.Node, 0, len(s.order))
	for _, id := range s.order {
		ep := s.endpoints[id]
		nodes = append(nodes, blocklist.Node{ID: ep.ID, Name: ep.Name})
	}
	return nodes, nil
}
