// Package urlutil provides URL manipulation utilities that preserve original encoding.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURI resolves a manifest reference against the manifest URL.
//
// http(s) URLs are returned unchanged. Root-relative references take the
// scheme and host of base; protocol-relative ones take its scheme. Anything
// else is appended to the base directory as-is, so the CDN's own encoding
// and any ../ segments reach the origin untouched.
func ResolveURI(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if IsAbsolute(ref) {
		return ref
	}

	if strings.HasPrefix(ref, "//") {
		if scheme := schemeOf(base); scheme != "" {
			return scheme + ":" + ref
		}
		return "https:" + ref
	}

	if strings.HasPrefix(ref, "/") {
		if sh := SchemeHost(base); sh != "" {
			return sh + ref
		}
	}

	return BaseDirectory(base) + ref
}

// IsAbsolute reports whether s starts with an http or https scheme.
func IsAbsolute(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// BaseDirectory returns everything up to and including the final slash of
// the URL path, with any query or fragment removed.
func BaseDirectory(urlStr string) string {
	if idx := strings.IndexAny(urlStr, "?#"); idx >= 0 {
		urlStr = urlStr[:idx]
	}
	if lastSlash := strings.LastIndex(urlStr, "/"); lastSlash >= 0 {
		return urlStr[:lastSlash+1]
	}
	return urlStr
}

// SchemeHost extracts scheme://host from a URL.
func SchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// SegmentsBase drops the final slash separated part of a URL and keeps the
// trailing slash. ok is false when the URL has three parts or fewer, i.e. no
// path segment beyond the host.
func SegmentsBase(urlStr string) (base string, ok bool) {
	parts := strings.Split(urlStr, "/")
	if len(parts) <= 3 {
		return "", false
	}
	return strings.Join(parts[:len(parts)-1], "/") + "/", true
}

// Extension returns the lower-cased file extension of the URL path without
// the dot, ignoring query and fragment.
func Extension(urlStr string) string {
	path := urlStr
	if parsed, err := url.Parse(urlStr); err == nil && parsed.Path != "" {
		path = parsed.Path
	} else if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}

	slash := strings.LastIndex(path, "/")
	dot := strings.LastIndex(path, ".")
	if dot < 0 || dot < slash {
		return ""
	}
	return strings.ToLower(path[dot+1:])
}

func schemeOf(urlStr string) string {
	if parsed, err := url.Parse(urlStr); err == nil {
		return parsed.Scheme
	}
	return ""
}
