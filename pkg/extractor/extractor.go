// Package extractor recovers a VideoDescriptor from unpacked player setup code.
package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vidproxy/pkg/logging"
	"vidproxy/pkg/rewriter"
	"vidproxy/pkg/types"
	"vidproxy/pkg/urlutil"
)

// URLParamKeys are the source query parameters kept for diagnostics
// (signature tokens, expiry, server and ASN hints).
var URLParamKeys = []string{"t", "s", "e", "f", "srv", "asn"}

var (
	videoIDRe = regexp.MustCompile(`[?&]b=([^&"'\s]+)`)

	sourcesKeyRe       = keyRe("sources", "[")
	tracksKeyRe        = keyRe("tracks", "[")
	qualityLabelsKeyRe = keyRe("qualityLabels", "{")
	playbackRatesKeyRe = keyRe("playbackRates", "[")

	qualityPairRe = regexp.MustCompile(`["']([^"']+)["']\s*:\s*["']([^"']*)["']`)
)

func keyRe(name, opener string) *regexp.Regexp {
	return regexp.MustCompile(`["']?\b` + name + `["']?\s*:\s*` + regexp.QuoteMeta(opener))
}

func fieldRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`["']?\b` + name + `["']?\s*:\s*(?:"([^"]*)"|'([^']*)')`)
}

var (
	fileField     = fieldRe("file")
	labelField    = fieldRe("label")
	kindField     = fieldRe("kind")
	imageField    = fieldRe("image")
	fileCodeField = fieldRe("file_code")
)

// firstString returns the first non-empty value of a string field in s.
func firstString(re *regexp.Regexp, s string) (string, bool) {
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		v := m[1]
		if v == "" {
			v = m[2]
		}
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// Extractor builds descriptors and gives HLS sources their proxy address.
type Extractor struct {
	addr rewriter.Addresser
	log  *logging.Logger
}

// New creates an Extractor.
func New(addr rewriter.Addresser, log *logging.Logger) *Extractor {
	return &Extractor{
		addr: addr,
		log:  log.WithComponent("extractor"),
	}
}

// Extract scans unpacked code for the player setup fields. It never fails:
// whatever could be recovered is returned and the rest is logged.
func (e *Extractor) Extract(text string) (d *types.VideoDescriptor) {
	d = types.NewVideoDescriptor()

	defer func() {
		if rec := recover(); rec != nil {
			e.log.Warn("extraction aborted, returning partial descriptor", "error", fmt.Sprint(rec))
		}
	}()

	if m := videoIDRe.FindStringSubmatch(text); m != nil {
		d.VideoID = m[1]
	}

	d.Sources = extractSources(text)
	if v, ok := firstString(imageField, text); ok {
		d.ThumbnailURL = v
	}
	if v, ok := firstString(fileCodeField, text); ok {
		d.Title = v
	}
	d.Tracks = extractTracks(text)
	d.QualityLabels = extractQualityLabels(text)
	d.PlaybackRates = extractPlaybackRates(text)

	for i := range d.Sources {
		e.addressSource(&d.Sources[i], d.VideoID)
	}

	log := e.log.With("video_id", d.VideoID)
	if len(d.Sources) == 0 {
		log.Warn("no sources found in player setup")
	}
	log.Debug("extracted descriptor",
		"sources", len(d.Sources),
		"tracks", len(d.Tracks),
		"quality_labels", len(d.QualityLabels),
		"has_thumbnail", d.ThumbnailURL != "",
	)
	return d
}

// addressSource fills the proxy fields of an HLS source. Sources whose URL
// cannot be parsed keep only their raw file.
func (e *Extractor) addressSource(src *types.Source, videoID string) {
	if src.Kind != types.SourceKindHLS {
		return
	}

	parsed, err := url.Parse(src.File)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		if err == nil {
			err = fmt.Errorf("not an absolute URL")
		}
		e.log.Warn("skipping proxy address for malformed source", "file", src.File, "error", err)
		return
	}

	src.ProxyURI = e.addr.ManifestURI(src.File, videoID)

	query := parsed.Query()
	src.URLParams = make(map[string]*string, len(URLParamKeys))
	for _, key := range URLParamKeys {
		if query.Has(key) {
			v := query.Get(key)
			src.URLParams[key] = &v
		} else {
			src.URLParams[key] = nil
		}
	}

	if base, ok := urlutil.SegmentsBase(src.File); ok {
		src.SegmentsBaseURL = base
	}
}

// extractSources reads the first sources array that yields entries. Objects
// directly inside the array are read first; if none carries a file, every
// file field anywhere in the array is taken in text order.
func extractSources(text string) []types.Source {
	sources := []types.Source{}
	for _, array := range fragments(text, sourcesKeyRe) {
		var files []string
		for _, obj := range topLevelObjects(array) {
			if f, ok := firstString(fileField, obj); ok {
				files = append(files, f)
			}
		}
		if len(files) == 0 {
			for _, m := range fileField.FindAllStringSubmatch(array, -1) {
				f := m[1]
				if f == "" {
					f = m[2]
				}
				if f != "" {
					files = append(files, f)
				}
			}
		}

		for _, f := range files {
			sources = append(sources, types.Source{File: f, Kind: types.KindForURL(f)})
		}
		if len(sources) > 0 {
			break
		}
	}
	return sources
}

func extractTracks(text string) []types.Track {
	tracks := []types.Track{}
	for _, array := range fragments(text, tracksKeyRe) {
		for _, obj := range topLevelObjects(array) {
			file, ok := firstString(fileField, obj)
			if !ok {
				continue
			}
			track := types.Track{File: file, Label: "Unknown", Kind: "captions"}
			if v, ok := firstString(labelField, obj); ok {
				track.Label = v
			}
			if v, ok := firstString(kindField, obj); ok {
				track.Kind = v
			}
			tracks = append(tracks, track)
		}
	}
	return tracks
}

func extractQualityLabels(text string) map[string]string {
	labels := map[string]string{}
	frags := fragments(text, qualityLabelsKeyRe)
	if len(frags) == 0 {
		return labels
	}
	for _, m := range qualityPairRe.FindAllStringSubmatch(frags[0], -1) {
		labels[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
	}
	return labels
}

func extractPlaybackRates(text string) []float64 {
	rates := []float64{}
	frags := fragments(text, playbackRatesKeyRe)
	if len(frags) == 0 {
		return rates
	}
	inner := strings.Trim(frags[0], "[]")
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if f, err := strconv.ParseFloat(part, 64); err == nil {
			rates = append(rates, f)
		}
	}
	return rates
}
