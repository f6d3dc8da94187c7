// Package blocklist implements the domain-list caching and policy-resolution
// engine behind the listforge dashboard. It downloads and caches third-party
// block/allow lists per DNS-serving node, keeps them fresh on a per-node
// schedule, survives restarts through a pluggable persistence adapter, and
// answers domain-classification and policy-simulation queries using wildcard
// and regex matching.
package blocklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("blocklist")

// Node identifies one DNS-serving node known to the dashboard.
type Node struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// NodeRegistry enumerates the nodes that need list caches and schedules.
type NodeRegistry interface {
	ListNodes(ctx context.Context) ([]Node, error)
}

// ConfigSource supplies a node's current blocking configuration.
// A failed call must be treated as "no configuration for now", never as a
// reason to crash the scheduler or the matching engine.
type ConfigSource interface {
	Config(ctx context.Context, nodeID string) (*NodeConfig, error)
}

// Group is a named policy group: manual entries plus remote list references.
type Group struct {
	Name               string   `json:"name" yaml:"name"`
	Blocked            []string `json:"blocked,omitempty" yaml:"blocked,omitempty"`
	Allowed            []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	BlockedRegex       []string `json:"blockedRegex,omitempty" yaml:"blockedRegex,omitempty"`
	AllowedRegex       []string `json:"allowedRegex,omitempty" yaml:"allowedRegex,omitempty"`
	BlockListURLs      []string `json:"blockListUrls,omitempty" yaml:"blockListUrls,omitempty"`
	AllowListURLs      []string `json:"allowListUrls,omitempty" yaml:"allowListUrls,omitempty"`
	BlockListRegexURLs []string `json:"blockListRegexUrls,omitempty" yaml:"blockListRegexUrls,omitempty"`
	AllowListRegexURLs []string `json:"allowListRegexUrls,omitempty" yaml:"allowListRegexUrls,omitempty"`
}

// NodeConfig is one node's blocking configuration.
type NodeConfig struct {
	Groups              []Group `json:"groups" yaml:"groups"`
	UpdateIntervalHours float64 `json:"updateIntervalHours,omitempty" yaml:"updateIntervalHours,omitempty"`
}

// Group returns the named group, or nil.
func (c *NodeConfig) Group(name string) *Group {
	if c == nil {
		return nil
	}
	for i := range c.Groups {
		if c.Groups[i].Name == name {
			return &c.Groups[i]
		}
	}
	return nil
}

// ListURLs returns the sorted, deduplicated set of every list URL referenced
// by the configuration, across all groups and all four URL roles. Manual
// entries do not contribute.
func (c *NodeConfig) ListURLs() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, g := range c.Groups {
		for _, urls := range [][]string{g.BlockListURLs, g.AllowListURLs, g.BlockListRegexURLs, g.AllowListRegexURLs} {
			for _, u := range urls {
				seen[u] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ContentHash returns the stable cache key for a list URL. It hashes the URL
// itself, not the fetched content, so the key is known before any fetch and
// doubles as the on-disk record name.
func ContentHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
