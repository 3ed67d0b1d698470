package parse

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// TrailingSlashPolicy controls how the last path segment is terminated
type TrailingSlashPolicy string

const (
	TrailingSlashAppend TrailingSlashPolicy = "append" // Add "/" unless the last segment has a file extension
	TrailingSlashStrip  TrailingSlashPolicy = "strip"  // Remove "/" except on the root path
	TrailingSlashKeep   TrailingSlashPolicy = "keep"   // Leave the path as produced
)

// IsValid returns true if the policy is known
func (p TrailingSlashPolicy) IsValid() bool {
	switch p {
	case TrailingSlashAppend, TrailingSlashStrip, TrailingSlashKeep:
		return true
	}
	return false
}

// DefaultStripParams are removed from every URL during normalization.
// A trailing "*" matches any key with that prefix.
var DefaultStripParams = []string{
	"utm_*", "gclid", "fbclid", "msclkid",
	"sessionid", "sid", "phpsessid", "jsessionid",
	"sort", "order", "filter", "filters", "facet",
	"page",
}

// NormalizeOptions configures NormalizeURL. The zero value appends trailing slashes and
// strips nothing but "www.".
type NormalizeOptions struct {
	CanonicalHost string              // Host every "www."-variant of the site is rewritten to
	TrailingSlash TrailingSlashPolicy // Empty means TrailingSlashAppend
	StripParams   []string            // Query keys removed, case-insensitive
}

// NormalizeURL standardizes a URL for comparison and output.
// Steps run in a fixed order: lowercase scheme and host, drop default ports, rewrite "www." to the
// canonical host, lowercase the path, apply the trailing slash policy, drop stripped query keys and
// sort the remaining ones, drop the fragment.
// Applying it to its own output returns the same string. Does not modify the input *url.URL
func NormalizeURL(u *url.URL, opts NormalizeOptions) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u
	normalized.User = nil

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = canonicalHost(normalized.Scheme, strings.ToLower(normalized.Host), opts.CanonicalHost)

	normalized.Path = strings.ToLower(normalized.Path)
	normalized.RawPath = strings.ToLower(normalized.RawPath)
	applyTrailingSlash(&normalized, opts.TrailingSlash)

	normalized.RawQuery = filterQuery(normalized.Query(), opts.StripParams)
	normalized.ForceQuery = false

	normalized.Fragment = "" // Remove fragment
	normalized.RawFragment = ""

	return normalized.String()
}

// ParseAndNormalize parses raw, resolving it against base when it is relative, and normalizes it.
// Returns the normalized string, the resolved URL object and any parse error
func ParseAndNormalize(raw string, base *url.URL, opts NormalizeOptions) (string, *url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid URL '%s': %w", utils.ErrParsing, raw, err)
	}
	if !parsed.IsAbs() {
		if base == nil {
			return "", nil, fmt.Errorf("%w: relative URL '%s' without base URL", utils.ErrParsing, raw)
		}
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Host == "" {
		return "", nil, fmt.Errorf("%w: URL '%s' has no host", utils.ErrParsing, raw)
	}
	return NormalizeURL(parsed, opts), parsed, nil
}

// MatchesParam reports whether key is covered by one of the patterns (exact or "prefix*")
func MatchesParam(key string, patterns []string) bool {
	key = strings.ToLower(key)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if key == p {
			return true
		}
	}
	return false
}

func canonicalHost(scheme, host, canonical string) string {
	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		hostname, port = host, ""
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	hostname = strings.TrimPrefix(hostname, "www.")
	if canonical != "" && hostname == strings.TrimPrefix(strings.ToLower(canonical), "www.") {
		hostname = strings.ToLower(canonical)
	}

	if port != "" {
		return net.JoinHostPort(hostname, port)
	}
	return hostname
}

func applyTrailingSlash(u *url.URL, policy TrailingSlashPolicy) {
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
		return
	}
	switch policy {
	case TrailingSlashKeep:
	case TrailingSlashStrip:
		if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
			u.Path = strings.TrimRight(u.Path, "/")
			if u.Path == "" {
				u.Path = "/"
			}
			u.RawPath = strings.TrimRight(u.RawPath, "/")
		}
	default:
		if !strings.HasSuffix(u.Path, "/") && path.Ext(path.Base(u.Path)) == "" {
			u.Path += "/"
			if u.RawPath != "" {
				u.RawPath += "/"
			}
		}
	}
}

// filterQuery drops stripped keys; url.Values.Encode sorts the rest by key
func filterQuery(values url.Values, strip []string) string {
	for key := range values {
		if MatchesParam(key, strip) {
			delete(values, key)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return values.Encode()
}
