package rewriter

import (
	"net/url"
	"strings"

	"vidproxy/pkg/types"
)

// Proxy endpoint paths.
const (
	ManifestPath = "/api/proxy/m3u8"
	SegmentPath  = "/api/proxy/segment"
	proxyPrefix  = "/api/proxy/"
)

// Addresser builds same-origin proxy URIs. An empty BaseURL yields
// root-relative links. A non-empty Password is carried as api_password so
// players can follow rewritten links on a protected server.
type Addresser struct {
	BaseURL  string
	Password string
}

// NewAddresser returns an Addresser for the given public base URL.
func NewAddresser(baseURL string) Addresser {
	return Addresser{BaseURL: strings.TrimRight(baseURL, "/")}
}

// WithPassword returns a copy of a that adds api_password to every link.
func (a Addresser) WithPassword(password string) Addresser {
	a.Password = password
	return a
}

// ManifestURI addresses target at the manifest proxy endpoint.
func (a Addresser) ManifestURI(target, videoID string) string {
	return a.build(ManifestPath, target, videoID)
}

// SegmentURI addresses target at the segment proxy endpoint.
func (a Addresser) SegmentURI(target, videoID string) string {
	return a.build(SegmentPath, target, videoID)
}

// MediaURI picks the manifest endpoint for sub-manifests, else the segment endpoint.
func (a Addresser) MediaURI(target, videoID string) string {
	if strings.Contains(target, types.HLSMarker) {
		return a.ManifestURI(target, videoID)
	}
	return a.SegmentURI(target, videoID)
}

// IsProxyURI reports whether s already targets one of the proxy endpoints.
func (a Addresser) IsProxyURI(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, proxyPrefix) {
		return true
	}
	return a.BaseURL != "" && strings.HasPrefix(s, a.BaseURL+proxyPrefix)
}

func (a Addresser) build(path, target, videoID string) string {
	q := url.Values{}
	q.Set("url", target)
	if videoID != "" {
		q.Set("videoId", videoID)
	}
	if a.Password != "" {
		q.Set("api_password", a.Password)
	}
	return a.BaseURL + path + "?" + q.Encode()
}
