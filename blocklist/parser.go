package blocklist

import (
	"regexp"
	"strings"
)

// Label syntax per RFC 952/1123: starts and ends alphanumeric, interior
// hyphens allowed, labels joined by dots.
var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validDomain(domain string) bool {
	return domain != "" && domainPattern.MatchString(domain)
}

// splitLines splits a list body into lines. A trailing newline does not
// produce a counted empty line; interior blank lines do.
func splitLines(body string) []string {
	lines := strings.Split(body, "\n")
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "" {
		lines = lines[:n-1]
	}
	return lines
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!")
}

// parseDomainList parses a newline-delimited domain or hosts-file list body.
// Comment lines start with '#' or '!'; blank lines are skipped. Hosts-file
// lines ("0.0.0.0 example.com") contribute their second token, plain lines
// their first. Entries failing the domain syntax check are dropped silently;
// accepted domains are normalized to lower case.
func parseDomainList(body string) (domains map[string]struct{}, lineCount, commentCount int) {
	domains = make(map[string]struct{})
	for _, raw := range splitLines(body) {
		lineCount++
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if isComment(line) {
			commentCount++
			continue
		}
		fields := strings.Fields(line)
		candidate := fields[0]
		if len(fields) >= 2 {
			candidate = fields[1]
		}
		candidate = NormalizeDomain(candidate)
		if !validDomain(candidate) {
			continue
		}
		domains[candidate] = struct{}{}
	}
	return domains, lineCount, commentCount
}

// parseRegexList parses a newline-delimited regex pattern list body. Each
// surviving line is compiled case-insensitively; a compilation failure drops
// the line and is counted as a comment rather than failing the whole list.
func parseRegexList(body string) (patterns []*regexp.Regexp, raw []string, lineCount, commentCount int) {
	for _, rawLine := range splitLines(body) {
		lineCount++
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		if isComment(line) {
			commentCount++
			continue
		}
		re, err := regexp.Compile("(?i)" + line)
		if err != nil {
			commentCount++
			continue
		}
		patterns = append(patterns, re)
		raw = append(raw, line)
	}
	return patterns, raw, lineCount, commentCount
}
