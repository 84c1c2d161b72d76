// Package types defines core domain types used throughout the application.
package types

import (
	"strings"
	"time"
)

// SourceKind identifies how a source is played back.
type SourceKind string

const (
	SourceKindHLS SourceKind = "hls"
	SourceKindMP4 SourceKind = "mp4"
)

// HLSMarker is the suffix that marks a URL as an HLS manifest.
const HLSMarker = ".m3u8"

// KindForURL classifies a media URL.
func KindForURL(file string) SourceKind {
	if strings.Contains(file, HLSMarker) {
		return SourceKindHLS
	}
	return SourceKindMP4
}

// Source is one playable stream found in the player setup.
type Source struct {
	File            string             `json:"file"`
	Kind            SourceKind         `json:"type"`
	ProxyURI        string             `json:"proxyUrl,omitempty"`
	URLParams       map[string]*string `json:"urlParams,omitempty"`
	SegmentsBaseURL string             `json:"segmentsBaseUrl,omitempty"`
}

// Track is a subtitle or caption reference.
type Track struct {
	File  string `json:"file"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// CookieRecord is one parsed Set-Cookie line. Attribute values are strings,
// or true for flag attributes such as Secure and HttpOnly.
type CookieRecord struct {
	Name       string         `json:"name"`
	Value      string         `json:"value"`
	Attributes map[string]any `json:"attributes"`
	Raw        string         `json:"raw"`
	ExpiresAt  *time.Time     `json:"expiresAt,omitempty"`
}

// Pair returns the name=value form sent back in a Cookie header.
func (c CookieRecord) Pair() string {
	return c.Name + "=" + c.Value
}

// PageResult is an embed page fetched with its session cookies.
type PageResult struct {
	HTML               string
	CookieHeader       string
	SimpleCookieHeader string
	RawCookies         []string
	Cookies            []CookieRecord
}

// VideoDescriptor is everything recovered from one embed page.
type VideoDescriptor struct {
	VideoID       string            `json:"videoId,omitempty"`
	Sources       []Source          `json:"sources"`
	ThumbnailURL  string            `json:"thumbnail,omitempty"`
	Title         string            `json:"title,omitempty"`
	Tracks        []Track           `json:"tracks"`
	QualityLabels map[string]string `json:"qualityLabels"`
	PlaybackRates []float64         `json:"playbackRates"`

	CookieHeader       string         `json:"cookies,omitempty"`
	SimpleCookieHeader string         `json:"simpleCookieFormat,omitempty"`
	RawCookies         []string       `json:"rawCookies,omitempty"`
	Cookies            []CookieRecord `json:"parsedCookies,omitempty"`

	ScrapedAt time.Time `json:"scrapedAt,omitempty"`
}

// NewVideoDescriptor returns an empty descriptor with non-nil collections.
func NewVideoDescriptor() *VideoDescriptor {
	return &VideoDescriptor{
		Sources:       []Source{},
		Tracks:        []Track{},
		QualityLabels: map[string]string{},
		PlaybackRates: []float64{},
	}
}

// BestPlaybackURI returns the proxy URI of the source at index, or its raw
// file when no proxy URI exists. ok is false when the index is out of range.
func (d *VideoDescriptor) BestPlaybackURI(index int) (uri string, ok bool) {
	if d == nil || index < 0 || index >= len(d.Sources) {
		return "", false
	}
	src := d.Sources[index]
	if src.ProxyURI != "" {
		return src.ProxyURI, true
	}
	return src.File, true
}

// UpstreamCookies returns the cookie header used for proxied requests.
func (d *VideoDescriptor) UpstreamCookies() string {
	if d == nil {
		return ""
	}
	if d.SimpleCookieHeader != "" {
		return d.SimpleCookieHeader
	}
	return d.CookieHeader
}

// DownloadStatus is a state of the download state machine.
type DownloadStatus string

const (
	DownloadStatusQueued      DownloadStatus = "queued"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusFailed
}

// DownloadProgress is a snapshot of one download job.
type DownloadProgress struct {
	JobID       string         `json:"jobId"`
	VideoID     string         `json:"videoId,omitempty"`
	SourceURL   string         `json:"sourceUrl"`
	OutputPath  string         `json:"outputPath"`
	Status      DownloadStatus `json:"status"`
	Progress    int            `json:"progress"`
	Duration    *float64       `json:"duration,omitempty"`
	CurrentTime *float64       `json:"currentTime,omitempty"`
	Error       string         `json:"error,omitempty"`
	ExitCode    *int           `json:"exitCode,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
}

// DownloadedFile is a finished artifact under the output directory.
type DownloadedFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// VideoSummary is a library listing entry.
type VideoSummary struct {
	VideoID      string           `json:"videoId"`
	Title        string           `json:"title,omitempty"`
	ThumbnailURL string           `json:"thumbnail,omitempty"`
	SourceCount  int              `json:"sourceCount"`
	ScrapedAt    time.Time        `json:"scrapedAt"`
	Downloads    []DownloadedFile `json:"downloads"`
}

// Variant is one rendition listed in a master manifest.
type Variant struct {
	URI        string  `json:"uri"`
	ProxyURI   string  `json:"proxyUrl,omitempty"`
	Bandwidth  uint32  `json:"bandwidth"`
	Resolution string  `json:"resolution,omitempty"`
	Codecs     string  `json:"codecs,omitempty"`
	FrameRate  float64 `json:"frameRate,omitempty"`
}

// ProxyResponse is the payload returned by the proxy endpoints.
type ProxyResponse struct {
	ContentType string
	Body        []byte
	StatusCode  int
}
