package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDomainList(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantDomains  []string
		wantLines    int
		wantComments int
	}{
		{
			name:         "hosts file and plain entries",
			input:        "# header\n\n0.0.0.0 ads.example.com\nplain.example.org\n",
			wantDomains:  []string{"ads.example.com", "plain.example.org"},
			wantLines:    4,
			wantComments: 1,
		},
		{
			name:         "bang comments",
			input:        "! adblock header\nexample.com\n",
			wantDomains:  []string{"example.com"},
			wantLines:    2,
			wantComments: 1,
		},
		{
			name:         "windows line endings CRLF",
			input:        "example.com\r\nexample.org\r\n",
			wantDomains:  []string{"example.com", "example.org"},
			wantLines:    2,
			wantComments: 0,
		},
		{
			name:        "upper case normalized",
			input:       "EXAMPLE.COM\n",
			wantDomains: []string{"example.com"},
			wantLines:   1,
		},
		{
			name:        "invalid syntax dropped silently",
			input:       "good.example.com\n-bad.example.com\nbad-.example.com\n*** invalid_token\n",
			wantDomains: []string{"good.example.com"},
			wantLines:   4,
		},
		{
			name:        "hosts second token wins",
			input:       "127.0.0.1 tracker.example.net extra-token\n",
			wantDomains: []string{"tracker.example.net"},
			wantLines:   1,
		},
		{
			name:        "interior hyphens allowed",
			input:       "my-site.example.com\n",
			wantDomains: []string{"my-site.example.com"},
			wantLines:   1,
		},
		{
			name:      "empty input",
			input:     "",
			wantLines: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domains, lines, comments := parseDomainList(tt.input)
			assert.Equal(t, tt.wantLines, lines)
			assert.Equal(t, tt.wantComments, comments)
			assert.Len(t, domains, len(tt.wantDomains))
			for _, d := range tt.wantDomains {
				assert.Contains(t, domains, d)
			}
		})
	}
}

func TestParseDomainListIdempotent(t *testing.T) {
	body := "# list\n0.0.0.0 a.example.com\nb.example.org\n\nc.example.net\n"

	d1, l1, c1 := parseDomainList(body)
	d2, l2, c2 := parseDomainList(body)

	assert.Equal(t, d1, d2)
	assert.Equal(t, l1, l2)
	assert.Equal(t, c1, c2)
}

func TestParseRegexList(t *testing.T) {
	patterns, raw, lines, comments := parseRegexList("# header\n^ads\\..*\n(unbalanced\n.*\\.doubleclick\\.net$\n")

	assert.Equal(t, 4, lines)
	// The header plus the uncompilable pattern both count as comments.
	assert.Equal(t, 2, comments)
	require.Len(t, patterns, 2)
	require.Equal(t, []string{`^ads\..*`, `.*\.doubleclick\.net$`}, raw)

	// Parallel slices stay aligned and compiled patterns are case-insensitive.
	assert.True(t, patterns[0].MatchString("ads.example.com"))
	assert.True(t, patterns[1].MatchString("STATS.DOUBLECLICK.NET"))
	assert.False(t, patterns[1].MatchString("doubleclick.net.example.com"))
}

func TestValidDomain(t *testing.T) {
	valid := []string{"example.com", "a.b.c.example.com", "my-site.example.org", "localhost", "xn--bcher-kva.example"}
	invalid := []string{"", "-bad.example.com", "bad-.example.com", "exa mple.com", "ex!ample.com", ".example.com"}

	for _, d := range valid {
		assert.True(t, validDomain(d), d)
	}
	for _, d := range invalid {
		assert.False(t, validDomain(d), d)
	}
}
