package blocklist

import (
	"regexp"
	"time"
)

// RegexList is one fetched and parsed regex-pattern list.
//
// Patterns[i] is always the compiled form of RawPatterns[i]; lines that fail
// to compile are dropped from both slices at parse time.
type RegexList struct {
	SourceURL    string
	ContentHash  string
	Patterns     []*regexp.Regexp
	RawPatterns  []string
	FetchedAt    time.Time
	LineCount    int
	CommentCount int
	ErrorMessage string
}

// Match tests the normalized domain against each pattern in list order and
// returns the raw text of the first pattern that matches. Additional matches
// within the same list are not enumerated.
func (l *RegexList) Match(domain string) (string, bool) {
	if l == nil {
		return "", false
	}
	d := NormalizeDomain(domain)
	for i, re := range l.Patterns {
		if re.MatchString(d) {
			return l.RawPatterns[i], true
		}
	}
	return "", false
}

// Size returns the number of compiled patterns.
func (l *RegexList) Size() int {
	if l == nil {
		return 0
	}
	return len(l.Patterns)
}

// Healthy reports whether the most recent fetch for this list succeeded.
func (l *RegexList) Healthy() bool { return l != nil && l.ErrorMessage == "" }
