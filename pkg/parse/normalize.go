package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// NormalizeURL standardizes a URL for hashing and comparison
// It lowercases the scheme and host, removes default ports, trims a trailing slash from non-root paths,
// turns an empty path into "/", drops the fragment and sorts the query parameters
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}
	normalized.RawPath = ""

	normalized.Fragment = ""
	normalized.RawFragment = ""
	if normalized.RawQuery != "" {
		// Encode sorts by key, so parameter order does not change the hash
		normalized.RawQuery = normalized.Query().Encode()
	}

	return normalized.String()
}

// ParseAndNormalize parses an absolute http(s) URL and normalizes it
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	// url.Parse, unlike ParseRequestURI, splits off the fragment
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, urlStr, err)
	}
	if !parsed.IsAbs() {
		return "", nil, fmt.Errorf("%w: URL '%s': not absolute", utils.ErrParsing, urlStr)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("%w: URL '%s': unsupported scheme '%s'", utils.ErrParsing, urlStr, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", nil, fmt.Errorf("%w: URL '%s': missing host", utils.ErrParsing, urlStr)
	}
	return NormalizeURL(parsed), parsed, nil
}

// URLHash returns the frontier key for a URL: the SHA-256 of its normalized form
func URLHash(urlStr string) (hash string, normalized string, err error) {
	normalized, _, err = ParseAndNormalize(urlStr)
	if err != nil {
		return "", "", err
	}
	return utils.CalculateStringSHA256(normalized), normalized, nil
}

// HostAllowed reports whether host equals, or is a subdomain of, one of the allowed domains
// An empty allow list allows every host
func HostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, domain := range allowed {
		domain = strings.ToLower(strings.TrimPrefix(domain, "."))
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
