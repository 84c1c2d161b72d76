// Package config handles application configuration from environment variables and flags.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys used in viper. Environment variables use the same names.
const (
	KeyPort                   = "PORT"
	KeyBaseURL                = "BASE_URL"
	KeyReadTimeout            = "READ_TIMEOUT"
	KeyWriteTimeout           = "WRITE_TIMEOUT"
	KeyIdleTimeout            = "IDLE_TIMEOUT"
	KeyAPIPassword            = "API_PASSWORD"
	KeyGlobalProxies          = "GLOBAL_PROXIES"
	KeyGlobalProxy            = "GLOBAL_PROXY"
	KeyTransportRoutes        = "TRANSPORT_ROUTES"
	KeyUTLSDomains            = "UTLS_DOMAINS"
	KeyEmbedHost              = "EMBED_HOST"
	KeyEmbedPath              = "EMBED_PATH"
	KeyEmbedRef               = "EMBED_REF"
	KeyPageTimeout            = "PAGE_TIMEOUT"
	KeyManifestTimeout        = "MANIFEST_TIMEOUT"
	KeySegmentTimeout         = "SEGMENT_TIMEOUT"
	KeyMaxRedirects           = "MAX_REDIRECTS"
	KeyFFmpegPath             = "FFMPEG_PATH"
	KeyOutputDir              = "OUTPUT_DIR"
	KeyMaxConcurrentDownloads = "MAX_CONCURRENT_DOWNLOADS"
	KeyDownloadQueueSize      = "DOWNLOAD_QUEUE_SIZE"
	KeyDBPath                 = "DB_PATH"
	KeyDescriptorTTL          = "DESCRIPTOR_TTL"
	KeyLogLevel               = "LOG_LEVEL"
	KeyLogJSON                = "LOG_JSON"
	KeyFlareSolverrURL        = "FLARESOLVERR_URL"
	KeyFlareSolverrTimeout    = "FLARESOLVERR_TIMEOUT"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Outbound transport
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string

	// Embed origin
	EmbedHost string
	EmbedPath string
	EmbedRef  string

	// Fetch limits
	PageTimeout     time.Duration
	ManifestTimeout time.Duration
	SegmentTimeout  time.Duration
	MaxRedirects    int

	// Downloads
	FFmpegPath             string
	OutputDir              string
	MaxConcurrentDownloads int
	DownloadQueueSize      int

	// Persistence
	DBPath        string
	DescriptorTTL time.Duration

	// Logging
	LogLevel string
	LogJSON  bool

	// FlareSolverr settings (optional page fetch backend)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // bypass global proxy
}

// SetDefaults registers every default on v and enables environment lookup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 3000)
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyReadTimeout, "30s")
	v.SetDefault(KeyWriteTimeout, "120s")
	v.SetDefault(KeyIdleTimeout, "60s")
	v.SetDefault(KeyAPIPassword, "")
	v.SetDefault(KeyGlobalProxies, "")
	v.SetDefault(KeyGlobalProxy, "")
	v.SetDefault(KeyTransportRoutes, "")
	v.SetDefault(KeyUTLSDomains, "")
	v.SetDefault(KeyEmbedHost, "zpjid.com")
	v.SetDefault(KeyEmbedPath, "/bkg/")
	v.SetDefault(KeyEmbedRef, "animedub.pro")
	v.SetDefault(KeyPageTimeout, "30s")
	v.SetDefault(KeyManifestTimeout, "15s")
	v.SetDefault(KeySegmentTimeout, "10s")
	v.SetDefault(KeyMaxRedirects, 5)
	v.SetDefault(KeyFFmpegPath, "ffmpeg")
	v.SetDefault(KeyOutputDir, "output")
	v.SetDefault(KeyMaxConcurrentDownloads, 2)
	v.SetDefault(KeyDownloadQueueSize, 8)
	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyDescriptorTTL, "6h")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyFlareSolverrURL, "")
	v.SetDefault(KeyFlareSolverrTimeout, "60s")

	v.AutomaticEnv()
}

// Load reads configuration from the global viper instance.
func Load() *Config {
	v := viper.GetViper()
	SetDefaults(v)
	return LoadFrom(v)
}

// LoadFrom builds a Config from an already populated viper instance.
func LoadFrom(v *viper.Viper) *Config {
	cfg := &Config{
		Port:                   v.GetInt(KeyPort),
		BaseURL:                strings.TrimRight(v.GetString(KeyBaseURL), "/"),
		ReadTimeout:            getDuration(v, KeyReadTimeout),
		WriteTimeout:           getDuration(v, KeyWriteTimeout),
		IdleTimeout:            getDuration(v, KeyIdleTimeout),
		APIPassword:            v.GetString(KeyAPIPassword),
		GlobalProxies:          getStringSlice(v, KeyGlobalProxies),
		UTLSDomains:            getStringSlice(v, KeyUTLSDomains),
		EmbedHost:              v.GetString(KeyEmbedHost),
		EmbedPath:              v.GetString(KeyEmbedPath),
		EmbedRef:               v.GetString(KeyEmbedRef),
		PageTimeout:            getDuration(v, KeyPageTimeout),
		ManifestTimeout:        getDuration(v, KeyManifestTimeout),
		SegmentTimeout:         getDuration(v, KeySegmentTimeout),
		MaxRedirects:           v.GetInt(KeyMaxRedirects),
		FFmpegPath:             v.GetString(KeyFFmpegPath),
		OutputDir:              v.GetString(KeyOutputDir),
		MaxConcurrentDownloads: v.GetInt(KeyMaxConcurrentDownloads),
		DownloadQueueSize:      v.GetInt(KeyDownloadQueueSize),
		DBPath:                 v.GetString(KeyDBPath),
		DescriptorTTL:          getDuration(v, KeyDescriptorTTL),
		LogLevel:               v.GetString(KeyLogLevel),
		LogJSON:                v.GetBool(KeyLogJSON),
		FlareSolverrURL:        v.GetString(KeyFlareSolverrURL),
		FlareSolverrTimeout:    getDuration(v, KeyFlareSolverrTimeout),
	}

	cfg.TransportRoutes = parseTransportRoutes(v.GetString(KeyTransportRoutes))

	// Legacy single proxy support
	if globalProxy := v.GetString(KeyGlobalProxy); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	if cfg.DBPath == "" {
		cfg.DBPath = strings.TrimRight(cfg.OutputDir, "/") + "/vidproxy.db"
	}
	if cfg.MaxConcurrentDownloads < 1 {
		cfg.MaxConcurrentDownloads = 1
	}
	if cfg.DownloadQueueSize < 0 {
		cfg.DownloadQueueSize = 0
	}
	if !strings.HasPrefix(cfg.EmbedPath, "/") {
		cfg.EmbedPath = "/" + cfg.EmbedPath
	}
	if !strings.HasSuffix(cfg.EmbedPath, "/") {
		cfg.EmbedPath += "/"
	}

	return cfg
}

// EmbedURL returns the player embed page for a video ID.
func (c *Config) EmbedURL(videoID string) string {
	return "https://" + c.EmbedHost + c.EmbedPath + videoID + "?ref=" + c.EmbedRef
}

// EmbedReferer returns the referer sent with the authoritative page request.
func (c *Config) EmbedReferer(videoID string) string {
	return "https://" + c.EmbedHost + c.EmbedPath + videoID
}

// parseTransportRoutes parses the TRANSPORT_ROUTES value.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	for _, part := range strings.Split(s, "}, {") {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)

			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

// getDuration accepts a bare integer as seconds, otherwise a Go duration string.
func getDuration(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return 0
}

// getStringSlice splits a comma separated value, dropping blanks.
func getStringSlice(v *viper.Viper, key string) []string {
	var parts []string
	if raw := v.Get(key); raw != nil {
		if list, ok := raw.([]string); ok {
			parts = list
		} else {
			parts = strings.Split(v.GetString(key), ",")
		}
	}

	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
