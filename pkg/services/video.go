// Package services holds the application operations behind the HTTP API and
// the CLI: scraping embed pages, proxying manifests and running downloads.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"vidproxy/pkg/cache"
	"vidproxy/pkg/extractor"
	"vidproxy/pkg/interfaces"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/rewriter"
	"vidproxy/pkg/store"
	"vidproxy/pkg/types"
	"vidproxy/pkg/unpacker"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrInvalidVideoID is returned for IDs that are empty or contain
	// characters outside [A-Za-z0-9_-].
	ErrInvalidVideoID = errors.New("invalid video id")

	// ErrNoPackedScript is returned when the embed page has no packed
	// player script.
	ErrNoPackedScript = errors.New("could not find packed code in the page")

	// ErrNotFound is returned for videos that were never scraped.
	ErrNotFound = errors.New("video not found")
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateVideoID rejects IDs that cannot safely name a directory.
func ValidateVideoID(id string) error {
	if !videoIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, id)
	}
	return nil
}

// VideoService scrapes embed pages into descriptors and manages the library
// of scraped videos.
type VideoService struct {
	pages     interfaces.PageFetcher
	extractor *extractor.Extractor
	addr      rewriter.Addresser
	store     interfaces.DescriptorStore
	cache     *cache.DescriptorCache
	outputDir string
	log       *logging.Logger
	now       func() time.Time
}

// NewVideoService creates a VideoService.
func NewVideoService(
	pages interfaces.PageFetcher,
	addr rewriter.Addresser,
	descriptors interfaces.DescriptorStore,
	descriptorCache *cache.DescriptorCache,
	outputDir string,
	log *logging.Logger,
) *VideoService {
	return &VideoService{
		pages:     pages,
		extractor: extractor.New(addr, log),
		addr:      addr,
		store:     descriptors,
		cache:     descriptorCache,
		outputDir: outputDir,
		log:       log.WithComponent("video-service"),
		now:       time.Now,
	}
}

// Scrape fetches the embed page for videoID, unpacks its player script and
// stores the resulting descriptor.
func (s *VideoService) Scrape(ctx context.Context, videoID string) (*types.VideoDescriptor, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return nil, err
	}
	log := s.log.WithVideoID(videoID)
	start := s.now()

	page, err := s.pages.AcquirePage(ctx, videoID)
	if err != nil {
		return nil, err
	}

	packed, ok := FindPackedScript(page.HTML)
	if !ok {
		log.Warn("embed page has no packed script", "bytes", len(page.HTML))
		return nil, ErrNoPackedScript
	}

	d := s.extractor.Extract(unpacker.Unpack(packed))
	s.bindVideoID(d, videoID)

	d.CookieHeader = page.CookieHeader
	d.SimpleCookieHeader = page.SimpleCookieHeader
	d.RawCookies = page.RawCookies
	d.Cookies = page.Cookies
	d.ScrapedAt = s.now().UTC()

	if s.store != nil {
		if err := s.store.SaveDescriptor(ctx, d); err != nil {
			return nil, fmt.Errorf("save descriptor: %w", err)
		}
	}
	if s.cache != nil {
		s.cache.Put(d)
	}

	log.WithDuration(s.now().Sub(start)).Info("video scraped",
		"sources", len(d.Sources),
		"title", d.Title,
	)
	return d, nil
}

// bindVideoID keys the descriptor by the requested ID. The page may carry a
// different ID token, in which case proxy addresses are rebuilt so cookie
// lookups by ID find this descriptor.
func (s *VideoService) bindVideoID(d *types.VideoDescriptor, videoID string) {
	if d.VideoID == videoID {
		return
	}
	if d.VideoID != "" {
		s.log.Debug("page video id differs from requested id", "page_id", d.VideoID, "video_id", videoID)
	}
	d.VideoID = videoID
	for i := range d.Sources {
		if d.Sources[i].ProxyURI != "" {
			d.Sources[i].ProxyURI = s.addr.ManifestURI(d.Sources[i].File, videoID)
		}
	}
}

// Get returns a live cached descriptor, scraping when there is none or when
// refresh is set.
func (s *VideoService) Get(ctx context.Context, videoID string, refresh bool) (*types.VideoDescriptor, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return nil, err
	}
	if !refresh && s.cache != nil {
		if d, ok := s.cache.Lookup(ctx, videoID); ok {
			return d, nil
		}
	}
	return s.Scrape(ctx, videoID)
}

// Stored returns the persisted descriptor without scraping, regardless of
// its age.
func (s *VideoService) Stored(ctx context.Context, videoID string) (*types.VideoDescriptor, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if d, ok := s.cache.Lookup(ctx, videoID); ok {
			return d, nil
		}
	}
	if s.store == nil {
		return nil, ErrNotFound
	}
	d, err := s.store.GetDescriptor(ctx, videoID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return d, err
}

// List returns every stored video with its finished downloads.
func (s *VideoService) List(ctx context.Context) ([]types.VideoSummary, error) {
	out := []types.VideoSummary{}
	if s.store == nil {
		return out, nil
	}
	descriptors, err := s.store.ListDescriptors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	for _, d := range descriptors {
		out = append(out, types.VideoSummary{
			VideoID:      d.VideoID,
			Title:        d.Title,
			ThumbnailURL: d.ThumbnailURL,
			SourceCount:  len(d.Sources),
			ScrapedAt:    d.ScrapedAt,
			Downloads:    s.DownloadedFiles(d.VideoID),
		})
	}
	return out, nil
}

// DownloadedFiles lists the mp4 files under the video's output directory.
func (s *VideoService) DownloadedFiles(videoID string) []types.DownloadedFile {
	files := []types.DownloadedFile{}
	if ValidateVideoID(videoID) != nil {
		return files
	}
	entries, err := os.ReadDir(filepath.Join(s.outputDir, videoID))
	if err != nil {
		return files
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, types.DownloadedFile{
			Name: e.Name(),
			URL:  DownloadURL(videoID, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

// Delete removes the stored descriptor, its jobs and its output directory.
func (s *VideoService) Delete(ctx context.Context, videoID string) error {
	if err := ValidateVideoID(videoID); err != nil {
		return err
	}
	log := s.log.WithVideoID(videoID)

	found := false
	if s.store != nil {
		err := s.store.DeleteDescriptor(ctx, videoID)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("delete descriptor: %w", err)
		}
	}
	if s.cache != nil {
		s.cache.Evict(videoID)
	}

	dir := filepath.Join(s.outputDir, videoID)
	if _, err := os.Stat(dir); err == nil {
		found = true
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove output directory: %w", err)
		}
	}

	if !found {
		return ErrNotFound
	}
	log.Info("video deleted")
	return nil
}

// OutputDir returns the directory a video's downloads are written to.
func (s *VideoService) OutputDir(videoID string) string {
	return filepath.Join(s.outputDir, videoID)
}

// DownloadURL is the static file path a finished download is served from.
func DownloadURL(videoID, name string) string {
	return "/downloads/" + videoID + "/" + name
}

// FindPackedScript returns the text of the packed player script in html.
// A script that also mentions jwplayer is preferred over any other packed
// script.
func FindPackedScript(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	var player, fallback string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if !unpacker.IsPacked(text) {
			return true
		}
		if strings.Contains(text, "jwplayer") {
			player = text
			return false
		}
		if fallback == "" {
			fallback = text
		}
		return true
	})

	if player != "" {
		return player, true
	}
	return fallback, fallback != ""
}
