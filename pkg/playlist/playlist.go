// Package playlist inspects HLS manifests.
package playlist

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"vidproxy/pkg/rewriter"
	"vidproxy/pkg/types"
	"vidproxy/pkg/urlutil"

	"github.com/grafov/m3u8"
)

// ErrNotMaster is returned when a manifest lists segments instead of variants.
var ErrNotMaster = errors.New("manifest is not a master playlist")

// Summary describes a media playlist.
type Summary struct {
	Segments       int     `json:"segments"`
	TargetDuration float64 `json:"targetDuration"`
	TotalDuration  float64 `json:"totalDuration"`
	Closed         bool    `json:"closed"`
}

// Variants lists the renditions of a master manifest, highest bandwidth
// first. Each URI is resolved against baseURL and given a proxy address.
func Variants(manifest, baseURL, videoID string, addr rewriter.Addresser) ([]types.Variant, error) {
	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(manifest), true)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if listType != m3u8.MASTER {
		return nil, ErrNotMaster
	}
	master := pl.(*m3u8.MasterPlaylist)

	variants := make([]types.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		uri := urlutil.ResolveURI(v.URI, baseURL)
		variants = append(variants, types.Variant{
			URI:        uri,
			ProxyURI:   addr.ManifestURI(uri, videoID),
			Bandwidth:  v.Bandwidth,
			Resolution: v.Resolution,
			Codecs:     v.Codecs,
			FrameRate:  v.FrameRate,
		})
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
	return variants, nil
}

// Summarize reports segment totals of a media playlist.
func Summarize(manifest string) (*Summary, error) {
	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(manifest), true)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("manifest is not a media playlist")
	}
	media := pl.(*m3u8.MediaPlaylist)

	s := &Summary{
		TargetDuration: media.TargetDuration,
		Closed:         media.Closed,
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		s.Segments++
		s.TotalDuration += seg.Duration
	}
	return s, nil
}
