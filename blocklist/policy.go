package blocklist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// Decision is the final outcome of a policy simulation.
type Decision string

const (
	DecisionBlocked Decision = "blocked"
	DecisionAllowed Decision = "allowed"
	// DecisionNone means the domain matched nothing. Absence from every
	// list is not itself "allowed"; resolvers treat it as unfiltered.
	DecisionNone Decision = "none"
)

// MatchType names the input that produced a Reason.
type MatchType string

const (
	MatchManualBlocked      MatchType = "manual-blocked"
	MatchManualAllowed      MatchType = "manual-allowed"
	MatchManualAllowedRegex MatchType = "manual-allowed-regex"
	MatchManualBlockedRegex MatchType = "manual-blocked-regex"
	MatchAllowList          MatchType = "allow-list"
	MatchAllowListRegex     MatchType = "allow-list-regex"
	MatchBlockList          MatchType = "block-list"
	MatchBlockListRegex     MatchType = "block-list-regex"
)

// ManualSource is the Source value for matches against manual entries.
const ManualSource = "manual"

// Reason is one contributing match. Matched carries the set member that hit
// (the domain or its matched ancestor); Pattern carries the regex text for
// regex matches. Group is filled on node-wide reports.
type Reason struct {
	Type    MatchType `json:"type"`
	Source  string    `json:"source"`
	Matched string    `json:"matched,omitempty"`
	Pattern string    `json:"pattern,omitempty"`
	Group   string    `json:"group,omitempty"`
}

// Verdict is the outcome of a group policy simulation. Reasons holds every
// contributing match even though only a subset determines the decision; the
// trail is what the dashboard renders as the explanation.
type Verdict struct {
	Domain      string   `json:"domain"`
	Group       string   `json:"group"`
	Decision    Decision `json:"decision"`
	Reasons     []Reason `json:"reasons,omitempty"`
	Explanation string   `json:"explanation"`
}

// DomainReport is the node-wide "where is this domain found" diagnostic: a
// listing of every hit across every group, with no collapsed decision.
type DomainReport struct {
	Domain string   `json:"domain"`
	Hits   []Reason `json:"hits,omitempty"`
}

// ListInfo describes one referenced list for the metadata view.
type ListInfo struct {
	Group     string    `json:"group"`
	Role      MatchType `json:"role"`
	URL       string    `json:"url"`
	Entries   int       `json:"entries"`
	LineCount int       `json:"lineCount"`
	FetchedAt int64     `json:"fetchedAt"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
}

// DomainEntry is one row of the merged all-domains view.
type DomainEntry struct {
	Domain string `json:"domain"`
	Group  string `json:"group"`
	Source string `json:"source"` // "manual" or the list URL
}

// DomainPage is a slice of the merged all-domains view.
type DomainPage struct {
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Domains []DomainEntry `json:"domains"`
}

// Engine answers domain-classification and policy-simulation queries for
// the dashboard, consuming List Store output and the node's blocking
// configuration.
type Engine struct {
	store *Store
	cfg   ConfigSource
	reg   NodeRegistry
}

// NewEngine wires an engine over the store and its collaborators.
func NewEngine(store *Store, cfg ConfigSource, reg NodeRegistry) *Engine {
	return &Engine{store: store, cfg: cfg, reg: reg}
}

// nodeConfig loads and reconciles a node's configuration; every read path
// goes through it so configuration drift invalidates the cache before data
// is served.
func (e *Engine) nodeConfig(ctx context.Context, nodeID string) (*NodeConfig, error) {
	cfg, err := e.cfg.Config(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node %s: reading config: %w", nodeID, err)
	}
	e.store.ReconcileConfig(nodeID, cfg)
	return cfg, nil
}

// SimulateGroupPolicy computes the allow/block/none decision for a domain
// against one policy group together with every contributing reason.
//
// All eight inputs are evaluated (manual exact blocked/allowed, manual
// allowed/blocked regex, then allow-list, allow-list-regex, block-list and
// block-list-regex URLs) and their matches collected before a decision is
// made. Precedence, first satisfied tier wins:
//
//  1. manual exact blocked        -> blocked
//  2. manual exact allowed        -> allowed
//  3. allow-list URL, allow-list-regex URL or manual allowed regex -> allowed
//  4. block-list URL, block-list-regex URL or manual blocked regex -> blocked
//  5. otherwise                   -> none
//
// Manual regex entries sharing a tier with URL-sourced lists (below manual
// exact entries) mirrors the upstream server's observed behavior.
func (e *Engine) SimulateGroupPolicy(ctx context.Context, nodeID, groupName, domain string) (*Verdict, error) {
	cfg, err := e.nodeConfig(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	g := cfg.Group(groupName)
	if g == nil {
		return nil, fmt.Errorf("node %s: no group %q", nodeID, groupName)
	}

	d := NormalizeDomain(domain)
	reasons := e.evaluateGroup(ctx, nodeID, g, d)
	verdict := &Verdict{
		Domain:   d,
		Group:    groupName,
		Decision: decide(reasons),
		Reasons:  reasons,
	}
	verdict.Explanation = explain(d, groupName, verdict.Decision, reasons)
	incVerdict(verdict.Decision)
	return verdict, nil
}

// evaluateGroup collects every match for the domain in the fixed evaluation
// order. Manual exact entries match exactly, never by wildcard; only
// URL-sourced DomainSets get ancestor expansion.
func (e *Engine) evaluateGroup(ctx context.Context, nodeID string, g *Group, domain string) []Reason {
	var reasons []Reason

	for _, entry := range g.Blocked {
		if NormalizeDomain(entry) == domain {
			reasons = append(reasons, Reason{Type: MatchManualBlocked, Source: ManualSource, Matched: domain})
			break
		}
	}
	for _, entry := range g.Allowed {
		if NormalizeDomain(entry) == domain {
			reasons = append(reasons, Reason{Type: MatchManualAllowed, Source: ManualSource, Matched: domain})
			break
		}
	}
	if p, ok := matchManualRegex(g.AllowedRegex, domain); ok {
		reasons = append(reasons, Reason{Type: MatchManualAllowedRegex, Source: ManualSource, Pattern: p})
	}
	if p, ok := matchManualRegex(g.BlockedRegex, domain); ok {
		reasons = append(reasons, Reason{Type: MatchManualBlockedRegex, Source: ManualSource, Pattern: p})
	}

	for _, url := range g.AllowListURLs {
		if m, ok := e.store.Domains(ctx, nodeID, url).Match(domain); ok {
			reasons = append(reasons, Reason{Type: MatchAllowList, Source: url, Matched: m})
		}
	}
	for _, url := range g.AllowListRegexURLs {
		if p, ok := e.store.Patterns(ctx, nodeID, url).Match(domain); ok {
			reasons = append(reasons, Reason{Type: MatchAllowListRegex, Source: url, Pattern: p})
		}
	}
	for _, url := range g.BlockListURLs {
		if m, ok := e.store.Domains(ctx, nodeID, url).Match(domain); ok {
			reasons = append(reasons, Reason{Type: MatchBlockList, Source: url, Matched: m})
		}
	}
	for _, url := range g.BlockListRegexURLs {
		if p, ok := e.store.Patterns(ctx, nodeID, url).Match(domain); ok {
			reasons = append(reasons, Reason{Type: MatchBlockListRegex, Source: url, Pattern: p})
		}
	}
	return reasons
}

// matchManualRegex tests the domain against manual pattern entries,
// case-insensitively, first match wins. Uncompilable entries are skipped.
func matchManualRegex(patterns []string, domain string) (string, bool) {
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		if re.MatchString(domain) {
			return p, true
		}
	}
	return "", false
}

func hasType(reasons []Reason, types ...MatchType) (Reason, bool) {
	for _, r := range reasons {
		for _, t := range types {
			if r.Type == t {
				return r, true
			}
		}
	}
	return Reason{}, false
}

func decide(reasons []Reason) Decision {
	if _, ok := hasType(reasons, MatchManualBlocked); ok {
		return DecisionBlocked
	}
	if _, ok := hasType(reasons, MatchManualAllowed); ok {
		return DecisionAllowed
	}
	if _, ok := hasType(reasons, MatchAllowList, MatchAllowListRegex, MatchManualAllowedRegex); ok {
		return DecisionAllowed
	}
	if _, ok := hasType(reasons, MatchBlockList, MatchBlockListRegex, MatchManualBlockedRegex); ok {
		return DecisionBlocked
	}
	return DecisionNone
}

func explain(domain, group string, decision Decision, reasons []Reason) string {
	var winner Reason
	switch decision {
	case DecisionBlocked:
		if r, ok := hasType(reasons, MatchManualBlocked); ok {
			winner = r
		} else {
			winner, _ = hasType(reasons, MatchBlockList, MatchBlockListRegex, MatchManualBlockedRegex)
		}
	case DecisionAllowed:
		if r, ok := hasType(reasons, MatchManualAllowed); ok {
			winner = r
		} else {
			winner, _ = hasType(reasons, MatchAllowList, MatchAllowListRegex, MatchManualAllowedRegex)
		}
	default:
		return fmt.Sprintf("%q does not match any list of group %q", domain, group)
	}

	via := winner.Source
	if winner.Pattern != "" {
		via = fmt.Sprintf("%s (pattern %q)", via, winner.Pattern)
	} else if winner.Matched != "" && winner.Matched != domain {
		via = fmt.Sprintf("%s (ancestor %q)", via, winner.Matched)
	}
	return fmt.Sprintf("%q is %s for group %q by %s via %s", domain, decision, group, winner.Type, via)
}

// CheckDomain runs the same membership checks across every group of the
// node and reports every hit. A diagnostic listing, not a policy decision.
func (e *Engine) CheckDomain(ctx context.Context, nodeID, domain string) (*DomainReport, error) {
	cfg, err := e.nodeConfig(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	d := NormalizeDomain(domain)
	report := &DomainReport{Domain: d}
	for i := range cfg.Groups {
		g := &cfg.Groups[i]
		for _, r := range e.evaluateGroup(ctx, nodeID, g, d) {
			r.Group = g.Name
			report.Hits = append(report.Hits, r)
		}
	}
	return report, nil
}

// ListMetadata reports every referenced list per group and role with entry
// counts, fetch time and health, so one failing URL annotates its own row
// without affecting the rest of the dashboard.
func (e *Engine) ListMetadata(ctx context.Context, nodeID string) ([]ListInfo, error) {
	cfg, err := e.nodeConfig(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	var infos []ListInfo
	for _, g := range cfg.Groups {
		for _, url := range g.AllowListURLs {
			s := e.store.Domains(ctx, nodeID, url)
			infos = append(infos, listInfo(g.Name, MatchAllowList, url, s.Size(), s.LineCount, s.FetchedAt.Unix(), s.ErrorMessage))
		}
		for _, url := range g.BlockListURLs {
			s := e.store.Domains(ctx, nodeID, url)
			infos = append(infos, listInfo(g.Name, MatchBlockList, url, s.Size(), s.LineCount, s.FetchedAt.Unix(), s.ErrorMessage))
		}
		for _, url := range g.AllowListRegexURLs {
			l := e.store.Patterns(ctx, nodeID, url)
			infos = append(infos, listInfo(g.Name, MatchAllowListRegex, url, l.Size(), l.LineCount, l.FetchedAt.Unix(), l.ErrorMessage))
		}
		for _, url := range g.BlockListRegexURLs {
			l := e.store.Patterns(ctx, nodeID, url)
			infos = append(infos, listInfo(g.Name, MatchBlockListRegex, url, l.Size(), l.LineCount, l.FetchedAt.Unix(), l.ErrorMessage))
		}
	}
	return infos, nil
}

func listInfo(group string, role MatchType, url string, entries, lines int, fetchedAt int64, errMsg string) ListInfo {
	return ListInfo{
		Group:     group,
		Role:      role,
		URL:       url,
		Entries:   entries,
		LineCount: lines,
		FetchedAt: fetchedAt,
		Healthy:   errMsg == "",
		Error:     errMsg,
	}
}

// AllDomains returns a page of the merged manual + URL-sourced block-role
// domains for a node with provenance, ordered by domain then source for a
// stable pagination window. group narrows the view to one group when
// non-empty.
func (e *Engine) AllDomains(ctx context.Context, nodeID, group string, offset, limit int) (*DomainPage, error) {
	cfg, err := e.nodeConfig(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	var entries []DomainEntry
	for _, g := range cfg.Groups {
		if group != "" && g.Name != group {
			continue
		}
		for _, d := range g.Blocked {
			entries = append(entries, DomainEntry{Domain: NormalizeDomain(d), Group: g.Name, Source: ManualSource})
		}
		for _, url := range g.BlockListURLs {
			set := e.store.Domains(ctx, nodeID, url)
			for d := range set.Domains {
				entries = append(entries, DomainEntry{Domain: d, Group: g.Name, Source: url})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Domain != entries[j].Domain {
			return entries[i].Domain < entries[j].Domain
		}
		if entries[i].Group != entries[j].Group {
			return entries[i].Group < entries[j].Group
		}
		return entries[i].Source < entries[j].Source
	})

	page := &DomainPage{Total: len(entries), Offset: offset}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < len(entries) {
		end := offset + limit
		if end > len(entries) {
			end = len(entries)
		}
		page.Domains = entries[offset:end]
	}
	page.Offset = offset
	return page, nil
}
