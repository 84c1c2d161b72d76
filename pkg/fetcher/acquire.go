package fetcher

import (
	"context"
	"fmt"

	"vidproxy/pkg/types"
)

// BaselineCookies are the cookies the embed host expects from a visit
// referred by embedRef, in Set-Cookie form.
func BaselineCookies(embedRef string) []string {
	return []string{
		"file_id=43620805; path=/",
		"aff=40302; path=/",
		"ref_url=" + embedRef + "; path=/",
		"lang=1; path=/",
	}
}

// AcquirePage fetches the embed page for videoID in two steps: a warm-up
// request that collects Set-Cookie headers, then the authoritative request
// carrying the baseline cookies plus whatever the warm-up returned.
func (f *Fetcher) AcquirePage(ctx context.Context, videoID string) (*types.PageResult, error) {
	log := f.log.WithVideoID(videoID)
	pageURL := f.embedURL(videoID)

	warm, err := f.Fetch(ctx, KindPage, pageURL, "", f.warmReferer)
	if err != nil {
		return nil, fmt.Errorf("cookie warm-up: %w", err)
	}
	log.Debug("warm-up complete", "set_cookies", len(warm.SetCookies))

	baseline := BaselineCookies(f.cfg.EmbedRef)
	simple := CookiePairs(baseline)
	header := simple
	if received := CookiePairs(warm.SetCookies); received != "" {
		header += "; " + received
	}

	page, err := f.Fetch(ctx, KindPage, pageURL, header, f.embedReferer(videoID))
	if err != nil {
		return nil, fmt.Errorf("fetch embed page: %w", err)
	}

	raw := warm.SetCookies
	if raw == nil {
		raw = []string{}
	}
	all := append(append([]string{}, baseline...), raw...)

	log.Info("embed page acquired", "bytes", len(page.Text), "cookies", len(raw))
	return &types.PageResult{
		HTML:               page.Text,
		CookieHeader:       header,
		SimpleCookieHeader: simple,
		RawCookies:         raw,
		Cookies:            ParseSetCookies(all),
	}, nil
}
