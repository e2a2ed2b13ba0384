package audit

import (
	"net/url"
	"strings"
)

// NormalizeDomain reduces a domain or URL to a bare hostname: the scheme and a
// leading "www." are stripped and anything after the first path separator is
// dropped. It returns "" for blank input.
func NormalizeDomain(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	candidate := s
	if !hasHTTPScheme(candidate) {
		candidate = "https://" + candidate
	}
	if u, err := url.Parse(candidate); err == nil && u.Hostname() != "" {
		return trimWWW(strings.ToLower(u.Hostname()))
	}
	s = stripScheme(s)
	s = trimWWW(s)
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	return strings.ToLower(s)
}

// MatchHost strips scheme and "www." and lowercases a link so that a
// normalized domain can be searched within it.
func MatchHost(link string) string {
	return strings.ToLower(trimWWW(stripScheme(strings.TrimSpace(link))))
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func stripScheme(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return s[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return s[len("http://"):]
	default:
		return s
	}
}

func trimWWW(s string) string {
	if len(s) >= 4 && strings.EqualFold(s[:4], "www.") {
		return s[4:]
	}
	return s
}
