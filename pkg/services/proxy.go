package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vidproxy/pkg/cache"
	"vidproxy/pkg/fetcher"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/playlist"
	"vidproxy/pkg/rewriter"
	"vidproxy/pkg/types"
	"vidproxy/pkg/urlutil"
)

// ManifestContentType is the media type of every proxied manifest.
const ManifestContentType = "application/vnd.apple.mpegurl"

// ErrInvalidURL is returned for proxy targets that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("url must be an absolute http(s) URL")

// ErrSourceIndex is returned when a source index is outside the descriptor's sources.
var ErrSourceIndex = errors.New("source index not found")

// ErrNotHLS is returned when a playlist is requested for a progressive source.
var ErrNotHLS = errors.New("source is not an HLS stream")

// ProxyRequest is the query contract shared by the manifest and segment
// endpoints.
type ProxyRequest struct {
	URL     string
	VideoID string
	Referer string
	Cookies string
}

// ProxyService fetches upstream manifests and segments with the session
// cookies of a scraped video, rewriting manifests so players stay on the proxy.
type ProxyService struct {
	fetcher  *fetcher.Fetcher
	rewriter *rewriter.Rewriter
	cache    *cache.DescriptorCache
	log      *logging.Logger
}

// NewProxyService creates a ProxyService. descriptorCache may be nil, in
// which case requests without cookies are sent without them.
func NewProxyService(f *fetcher.Fetcher, rw *rewriter.Rewriter, descriptorCache *cache.DescriptorCache, log *logging.Logger) *ProxyService {
	return &ProxyService{
		fetcher:  f,
		rewriter: rw,
		cache:    descriptorCache,
		log:      log.WithComponent("proxy-service"),
	}
}

// HandleManifest fetches a manifest and rewrites every URI in it to the proxy.
func (s *ProxyService) HandleManifest(ctx context.Context, req ProxyRequest) (*types.ProxyResponse, error) {
	if err := validateTarget(req.URL); err != nil {
		return nil, err
	}
	cookies := s.cookiesFor(ctx, req)

	s.log.Debug("handling manifest request", "url", req.URL, "video_id", req.VideoID, "cookies", cookies != "")

	content, err := s.fetcher.Fetch(ctx, fetcher.KindManifest, req.URL, cookies, req.Referer)
	if err != nil {
		return nil, err
	}

	rewritten := s.rewriter.Rewrite(content.Text, req.URL, req.VideoID)
	return &types.ProxyResponse{
		ContentType: ManifestContentType,
		Body:        []byte(rewritten),
		StatusCode:  http.StatusOK,
	}, nil
}

// HandleSegment fetches a media segment, key or subtitle file. Targets that
// are manifests are handled as manifests.
func (s *ProxyService) HandleSegment(ctx context.Context, req ProxyRequest) (*types.ProxyResponse, error) {
	if err := validateTarget(req.URL); err != nil {
		return nil, err
	}
	if IsManifestURL(req.URL) {
		return s.HandleManifest(ctx, req)
	}
	cookies := s.cookiesFor(ctx, req)

	content, err := s.fetcher.Fetch(ctx, fetcher.KindSegment, req.URL, cookies, req.Referer)
	if err != nil {
		return nil, err
	}

	return &types.ProxyResponse{
		ContentType: ContentTypeFor(req.URL),
		Body:        content.Body,
		StatusCode:  http.StatusOK,
	}, nil
}

// PlaylistInfo describes the manifest behind one source: its renditions
// when it is a master playlist, else its segment totals.
type PlaylistInfo struct {
	SourceIndex int               `json:"sourceIndex"`
	URL         string            `json:"url"`
	Master      bool              `json:"master"`
	Variants    []types.Variant   `json:"variants,omitempty"`
	Media       *playlist.Summary `json:"media,omitempty"`
}

// Inspect fetches the manifest of the source at sourceIndex and describes it.
func (s *ProxyService) Inspect(ctx context.Context, d *types.VideoDescriptor, sourceIndex int) (*PlaylistInfo, error) {
	if sourceIndex < 0 || sourceIndex >= len(d.Sources) {
		return nil, fmt.Errorf("%w: %d", ErrSourceIndex, sourceIndex)
	}
	src := d.Sources[sourceIndex]
	if src.Kind != types.SourceKindHLS {
		return nil, fmt.Errorf("source %d: %w", sourceIndex, ErrNotHLS)
	}

	content, err := s.fetcher.Fetch(ctx, fetcher.KindManifest, src.File, d.UpstreamCookies(), "")
	if err != nil {
		return nil, err
	}

	info := &PlaylistInfo{SourceIndex: sourceIndex, URL: src.File}
	variants, err := playlist.Variants(content.Text, src.File, d.VideoID, s.rewriter.Addresser())
	if err == nil {
		info.Master = true
		info.Variants = variants
		return info, nil
	}
	if !errors.Is(err, playlist.ErrNotMaster) {
		return nil, err
	}

	summary, err := playlist.Summarize(content.Text)
	if err != nil {
		return nil, err
	}
	info.Media = summary
	return info, nil
}

// cookiesFor returns the explicit cookies of req, or those of the cached
// descriptor for its video.
func (s *ProxyService) cookiesFor(ctx context.Context, req ProxyRequest) string {
	if req.Cookies != "" || req.VideoID == "" || s.cache == nil {
		return req.Cookies
	}
	d, ok := s.cache.Lookup(ctx, req.VideoID)
	if !ok {
		if d, ok = s.cache.Stored(ctx, req.VideoID); !ok {
			s.log.Debug("no stored descriptor for cookies", "video_id", req.VideoID)
			return ""
		}
		s.log.Debug("using stale descriptor cookies", "video_id", req.VideoID)
	}
	return d.UpstreamCookies()
}

func validateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("%w: missing", ErrInvalidURL)
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}
	return nil
}

// IsManifestURL reports whether the path of target names an HLS manifest.
func IsManifestURL(target string) bool {
	if u, err := url.Parse(target); err == nil {
		return strings.Contains(u.Path, types.HLSMarker)
	}
	return strings.Contains(target, types.HLSMarker)
}

// ContentTypeFor maps the extension of target to the media type served for it.
func ContentTypeFor(target string) string {
	switch urlutil.Extension(target) {
	case "ts":
		return "video/MP2T"
	case "mp4", "m4s", "mp4a":
		return "video/mp4"
	case "vtt":
		return "text/vtt"
	case "srt":
		return "text/srt"
	default:
		return "application/octet-stream"
	}
}
