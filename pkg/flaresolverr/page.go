package flaresolverr

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"vidproxy/pkg/config"
	"vidproxy/pkg/fetcher"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"
)

// PageFetcher acquires embed pages through FlareSolverr. The solver's
// browser performs the cookie warm-up itself, so a single request carrying
// the baseline cookies is enough.
type PageFetcher struct {
	client *Client
	cfg    *config.Config
	log    *logging.Logger
}

// NewPageFetcher creates a PageFetcher backed by client.
func NewPageFetcher(client *Client, cfg *config.Config, log *logging.Logger) *PageFetcher {
	return &PageFetcher{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("flaresolverr-pages"),
	}
}

// AcquirePage fetches the embed page for videoID.
func (p *PageFetcher) AcquirePage(ctx context.Context, videoID string) (*types.PageResult, error) {
	baseline := fetcher.BaselineCookies(p.cfg.EmbedRef)
	simple := fetcher.CookiePairs(baseline)

	seed := make([]Cookie, 0, len(baseline))
	for _, rec := range fetcher.ParseSetCookies(baseline) {
		seed = append(seed, Cookie{Name: rec.Name, Value: rec.Value, Domain: p.cfg.EmbedHost, Path: "/"})
	}

	resp, err := p.client.Get(ctx, p.cfg.EmbedURL(videoID), seed, map[string]string{
		"Referer": p.cfg.EmbedReferer(videoID),
	})
	if err != nil {
		return nil, fmt.Errorf("flaresolverr page fetch: %w", err)
	}
	if status := resp.Solution.Status; status != 0 && (status < http.StatusOK || status >= http.StatusBadRequest) {
		return nil, &fetcher.UpstreamError{Kind: fetcher.KindPage, URL: p.cfg.EmbedURL(videoID), StatusCode: status}
	}

	known := make(map[string]bool, len(seed))
	for _, ck := range seed {
		known[ck.Name] = true
	}

	raw := []string{}
	for _, ck := range resp.Solution.Cookies {
		if known[ck.Name] {
			continue
		}
		raw = append(raw, ck.SetCookieLine())
	}

	header := simple
	if received := fetcher.CookiePairs(raw); received != "" {
		header = strings.Join([]string{simple, received}, "; ")
	}

	p.log.WithVideoID(videoID).Info("embed page acquired via FlareSolverr",
		"bytes", len(resp.Solution.Response),
		"cookies", len(raw),
	)
	return &types.PageResult{
		HTML:               resp.Solution.Response,
		CookieHeader:       header,
		SimpleCookieHeader: simple,
		RawCookies:         raw,
		Cookies:            fetcher.ParseSetCookies(append(append([]string{}, baseline...), raw...)),
	}, nil
}
