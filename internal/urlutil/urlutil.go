// Package urlutil provides URL normalization and comparison helpers
// shared by the crawler and the site mapper.
package urlutil

import (
	"net/url"
	"strings"
)

// Clean removes the fragment from a URL, keeping the query string.
// Invalid URLs are returned unchanged.
func Clean(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.Fragment = ""
	return parsed.String()
}

// StripQuery removes both the query string and the fragment,
// leaving scheme://host/path.
func StripQuery(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.Fragment = ""
	parsed.RawQuery = ""
	return parsed.String()
}

// Normalize produces a canonical form of a URL for deduplication:
// lowercased scheme and host, default ports removed, fragment removed,
// trailing slash collapsed (except root), query parameters sorted.
// Normalize is idempotent.
func Normalize(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}

	parsed.Fragment = ""

	if parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = parsed.Query().Encode()
	}

	return parsed.String(), nil
}

// SameOrigin reports whether two URLs share scheme and host.
func SameOrigin(a, b string) bool {
	pa, err := url.Parse(a)
	if err != nil {
		return false
	}
	pb, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(pa.Scheme, pb.Scheme) &&
		strings.EqualFold(pa.Host, pb.Host)
}

// Resolve resolves a possibly relative URL against a base URL.
func Resolve(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(r).String(), nil
}

// IsHTTP reports whether a URL uses the http or https scheme and has a host.
func IsHTTP(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

// QueryParams returns the multi-valued query parameters of a URL.
func QueryParams(rawURL string) map[string][]string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return map[string][]string{}
	}
	return parsed.Query()
}

// Extension returns the lowercased path extension including the dot,
// or an empty string.
func Extension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.ToLower(parsed.Path)
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx < strings.LastIndex(path, "/") {
		return ""
	}
	return path[idx:]
}
