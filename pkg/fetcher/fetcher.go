// Package fetcher performs browser-like upstream requests for embed pages,
// manifests and segments, and acquires the session cookies they require.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"vidproxy/pkg/config"
	"vidproxy/pkg/interfaces"
	"vidproxy/pkg/logging"

	"golang.org/x/net/publicsuffix"
)

// UserAgent is sent with every upstream request.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Kind selects the header set and timeout of a request.
type Kind int

const (
	KindPage Kind = iota
	KindManifest
	KindSegment
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindManifest:
		return "manifest"
	case KindSegment:
		return "segment"
	}
	return "unknown"
}

// ErrNonTextManifest is returned when a manifest response carries no text at
// all, only an empty media payload. Invalid UTF-8 is replaced, not rejected.
var ErrNonTextManifest = errors.New("manifest response is not text")

// UpstreamError reports a failed or rejected upstream request.
type UpstreamError struct {
	Kind       Kind
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s fetch %s: status %d", e.Kind, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s fetch %s: %v", e.Kind, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Content is a successful upstream response.
type Content struct {
	Text        string // set for pages and manifests
	Body        []byte
	ContentType string
	StatusCode  int
	SetCookies  []string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Fetcher issues upstream requests through the shared HTTP client.
type Fetcher struct {
	client interfaces.HTTPClient
	cfg    *config.Config
	log    *logging.Logger

	// embedURL and embedReferer default to the configured embed origin.
	embedURL     func(videoID string) string
	embedReferer func(videoID string) string
	warmReferer  string
}

// New creates a Fetcher.
func New(client interfaces.HTTPClient, cfg *config.Config, log *logging.Logger) *Fetcher {
	return &Fetcher{
		client:       client,
		cfg:          cfg,
		log:          log.WithComponent("fetcher"),
		embedURL:     cfg.EmbedURL,
		embedReferer: cfg.EmbedReferer,
		warmReferer:  "https://" + cfg.EmbedRef + "/",
	}
}

func (f *Fetcher) timeout(kind Kind) time.Duration {
	var d time.Duration
	switch kind {
	case KindPage:
		d = f.cfg.PageTimeout
	case KindManifest:
		d = f.cfg.ManifestTimeout
	case KindSegment:
		d = f.cfg.SegmentTimeout
	}
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// Fetch retrieves target with the header set for kind. Statuses outside
// 200-399 are returned as *UpstreamError.
func (f *Fetcher) Fetch(ctx context.Context, kind Kind, target, cookies, referer string) (*Content, error) {
	log := f.log.With("kind", kind.String()).WithURL(target)

	ctx, cancel := context.WithTimeout(ctx, f.timeout(kind))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Kind: kind, URL: target, Err: err}
	}
	setBrowserHeaders(req, kind, cookies, referer)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		log.WithError(err).Error("upstream request failed")
		return nil, &UpstreamError{Kind: kind, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		log.Error("upstream rejected request", "status", resp.StatusCode)
		return nil, &UpstreamError{Kind: kind, URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Kind: kind, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	content := &Content{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		SetCookies:  resp.Header.Values("Set-Cookie"),
	}

	switch kind {
	case KindManifest:
		if len(body) == 0 && isBinaryMedia(content.ContentType) {
			log.Error("manifest body is not text", "content_type", content.ContentType)
			return nil, ErrNonTextManifest
		}
		text := string(bytes.TrimPrefix(body, utf8BOM))
		if !utf8.ValidString(text) {
			log.Warn("manifest body is not valid UTF-8, replacing invalid bytes", "content_type", content.ContentType, "bytes", len(body))
			text = strings.ToValidUTF8(text, "\uFFFD")
		}
		content.Text = text
	case KindPage:
		content.Text = string(body)
	}

	log.WithDuration(time.Since(start)).Debug("upstream fetch complete", "status", resp.StatusCode, "bytes", len(body))
	return content, nil
}

// isBinaryMedia reports whether contentType names a media payload rather
// than a playlist.
func isBinaryMedia(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "image/"),
		mediaType == "application/octet-stream":
		return true
	}
	return false
}

// setBrowserHeaders applies the header set a browser would send for kind.
func setBrowserHeaders(req *http.Request, kind Kind, cookies, referer string) {
	host := req.URL.Hostname()

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if kind == KindPage {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		req.Header.Set("Cache-Control", "no-cache")
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
	} else {
		if referer == "" {
			referer = "https://" + host + "/"
		}
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Origin", "https://"+host)
		req.Header.Set("Referer", referer)
		req.Header.Set("Connection", "keep-alive")
		req.Header.Set("Sec-Fetch-Dest", "empty")
		req.Header.Set("Sec-Fetch-Mode", "cors")
		req.Header.Set("Sec-Fetch-Site", fetchSite(host, referer))
		if kind == KindManifest {
			req.Header.Set("Cache-Control", "no-cache")
		}
	}

	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
}

// fetchSite classifies the request relative to its referer the way
// Sec-Fetch-Site does. Unknown referers count as same-site.
func fetchSite(host, referer string) string {
	ref, err := url.Parse(referer)
	if err != nil || ref.Hostname() == "" {
		return "same-site"
	}
	refHost := ref.Hostname()
	if strings.EqualFold(refHost, host) {
		return "same-origin"
	}

	a, errA := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	b, errB := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(refHost))
	if errA != nil || errB != nil {
		return "same-site"
	}
	if a == b {
		return "same-site"
	}
	return "cross-site"
}
