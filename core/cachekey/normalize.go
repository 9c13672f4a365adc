// ABOUTME: URL normalization so logically identical feed URLs share one cache key
// ABOUTME: Folds case, strips default ports, trailing slashes and index documents

package cachekey

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var indexDocuments = []string{
	"/index.html",
	"/index.htm",
	"/index.php",
	"/default.aspx",
}

// NormalizeURL returns the canonical form of a feed or article URL.
// Scheme, host and path are lowercased, default ports, fragments, trailing
// slashes and default index documents are dropped. The query is kept as-is.
// NormalizeURL is idempotent.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return normalizeOpaque(trimmed)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	if port := u.Port(); port != "" && defaultPorts[scheme] != port {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	path := normalizePath(strings.ToLower(u.EscapedPath()))

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteString("@")
	}
	b.WriteString(host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// normalizePath strips trailing slashes and index documents until stable
func normalizePath(path string) string {
	for {
		before := path
		path = strings.TrimRight(path, "/")
		for _, doc := range indexDocuments {
			path = strings.TrimSuffix(path, doc)
		}
		if path == before {
			return path
		}
	}
}

// normalizeOpaque handles inputs that are not absolute URLs
func normalizeOpaque(s string) string {
	s = strings.ToLower(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

// NormalizeAll normalizes, drops empties and deduplicates, keeping first-seen order
func NormalizeAll(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		n := NormalizeURL(item)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
