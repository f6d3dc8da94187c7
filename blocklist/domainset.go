package blocklist

import (
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DomainSet is one fetched and parsed exact-domain list.
//
// A set without an ErrorMessage was produced by a successful fetch+parse.
// A set with both an ErrorMessage and non-empty Domains is a retained stale
// copy kept after a failed refresh.
type DomainSet struct {
	SourceURL    string
	ContentHash  string
	Domains      map[string]struct{}
	FetchedAt    time.Time
	LineCount    int
	CommentCount int
	ErrorMessage string
}

// Match reports whether domain is covered by the set using wildcard ancestor
// semantics: a set containing "gambling.com" matches "gambling.com",
// "test.gambling.com" and "a.b.gambling.com". The returned value is the set
// member that matched (the domain itself or its closest matching ancestor).
func (s *DomainSet) Match(domain string) (string, bool) {
	if s == nil || len(s.Domains) == 0 {
		return "", false
	}
	d := NormalizeDomain(domain)
	if _, ok := s.Domains[d]; ok {
		return d, true
	}
	labels := dns.SplitDomainName(d)
	for i := 1; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		if _, ok := s.Domains[suffix]; ok {
			return suffix, true
		}
	}
	return "", false
}

// Size returns the number of domains in the set.
func (s *DomainSet) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Domains)
}

// Healthy reports whether the most recent fetch for this list succeeded.
func (s *DomainSet) Healthy() bool { return s != nil && s.ErrorMessage == "" }

// NormalizeDomain lower-cases, trims whitespace and strips a trailing dot.
// Every domain entering a set or a query goes through this.
func NormalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
