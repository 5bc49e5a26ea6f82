// Package defang rewrites links into inert forms so that text forwarded to
// notification channels cannot be accidentally navigated.
package defang

import (
	"strings"
)

// URL neutralizes a single URL: the scheme separator becomes "[:]//",
// http/https become hxxp/hxxps, and every dot in the host is bracketed.
func URL(raw string) string {
	s := raw
	scheme := ""
	rest := s
	if i := strings.Index(s, "://"); i >= 0 {
		scheme = s[:i]
		rest = s[i+len("://"):]
	}
	switch strings.ToLower(scheme) {
	case "http":
		scheme = "hxxp"
	case "https":
		scheme = "hxxps"
	}
	// Bracket dots only in the host part, not in the path or query.
	host := rest
	tail := ""
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		host = rest[:i]
		tail = rest[i:]
	}
	host = strings.ReplaceAll(host, ".", "[.]")
	if scheme == "" {
		return host + tail
	}
	return scheme + "[:]//" + host + tail
}

// Text applies URL to every URL-shaped token in free text. A token is treated
// as a URL when it contains a scheme separator.
func Text(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	fields := strings.Split(s, " ")
	for i, f := range fields {
		if strings.Contains(f, "://") {
			fields[i] = URL(f)
		}
	}
	return strings.Join(fields, " ")
}
