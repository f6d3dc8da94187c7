package blocklist

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes the sorted, deduplicated set of every list URL a
// configuration references. It detects that something changed, not what:
// adding, removing or swapping any URL in any group changes the value.
// Manual entries are deliberately excluded; they live in the configuration
// itself and need no cache.
func Fingerprint(cfg *NodeConfig) string {
	urls := cfg.ListURLs()
	sum := sha256.Sum256([]byte(strings.Join(urls, "\n")))
	return hex.EncodeToString(sum[:])
}

// ReconcileConfig compares the configuration's fingerprint against the one
// previously stored for the node and clears both cache maps when they
// differ. The first observation for a node only records the fingerprint so
// a warm (rehydrated) cache is not wiped at startup. Returns true when the
// cache was invalidated.
//
// Every read path that needs fresh data calls this, which makes cache
// correctness configuration-driven: a config edit is visible on the very
// next read, while absent edits the cache rides on the freshness window.
func (s *Store) ReconcileConfig(nodeID string, cfg *NodeConfig) bool {
	if cfg == nil {
		return false
	}
	fp := Fingerprint(cfg)

	s.mu.Lock()
	nc := s.node(nodeID)
	prev := nc.fingerprint
	if prev == fp {
		s.mu.Unlock()
		return false
	}
	nc.fingerprint = fp
	if prev == "" {
		s.mu.Unlock()
		return false
	}
	nc.domains = make(map[string]*DomainSet)
	nc.regexes = make(map[string]*RegexList)
	s.mu.Unlock()

	incInvalidation(nodeID)
	setEntries(nodeID, KindDomains, 0)
	setEntries(nodeID, KindRegex, 0)
	log.Infof("node %s: configuration changed (%s -> %s), cache invalidated", nodeID, short(prev), short(fp))
	return true
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
