package util

import (
	"net/url"
	"path"
	"strings"
)

// Tracking query parameters stripped during URL normalisation. utm_* is
// matched by prefix.
var trackingParams = map[string]struct{}{
	"source":   {},
	"from":     {},
	"ref":      {},
	"referrer": {},
	"track":    {},
	"spm":      {},
}

// NormalizeURL parses a URL, drops tracking query parameters and
// re-serialises it. Idempotent: normalising twice yields the same string.
// Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			changed = true
			continue
		}
		if _, ok := trackingParams[lower]; ok {
			q.Del(key)
			changed = true
		}
	}
	if changed || u.RawQuery != "" {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// ResolveURL resolves a possibly-relative link against a base URL. Absolute
// links are normalised and returned as-is; protocol-relative links inherit
// the base scheme.
func ResolveURL(baseURL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	if parsed, err := url.Parse(link); err == nil && parsed.IsAbs() {
		return link
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return link
	}

	if strings.HasPrefix(link, "//") {
		return base.Scheme + ":" + link
	}

	rel, err := url.Parse(link)
	if err != nil {
		return link
	}

	return base.ResolveReference(rel).String()
}

// JoinURLPath joins a path onto a base URL preserving any path prefix in the
// base, avoiding url.ResolveReference's absolute-path replacement semantics.
func JoinURLPath(baseURL, pathOrURL string) string {
	if baseURL == "" {
		return pathOrURL
	}
	if pathOrURL == "" {
		return baseURL
	}

	if parsed, err := url.Parse(pathOrURL); err == nil && parsed.IsAbs() {
		return pathOrURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return pathOrURL
	}

	base.Path = path.Join(base.Path, pathOrURL)
	return base.String()
}
