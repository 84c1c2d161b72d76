package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadFromDefaults(t *testing.T) {
	cfg := LoadFrom(newViper(t, nil))

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.ManifestTimeout != 15*time.Second {
		t.Errorf("ManifestTimeout = %v, want 15s", cfg.ManifestTimeout)
	}
	if cfg.SegmentTimeout != 10*time.Second {
		t.Errorf("SegmentTimeout = %v, want 10s", cfg.SegmentTimeout)
	}
	if cfg.PageTimeout <= cfg.ManifestTimeout {
		t.Errorf("page timeout %v should exceed manifest timeout %v", cfg.PageTimeout, cfg.ManifestTimeout)
	}
	if cfg.MaxRedirects != 5 {
		t.Errorf("MaxRedirects = %d, want 5", cfg.MaxRedirects)
	}
	if cfg.DBPath != "output/vidproxy.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if got := cfg.EmbedURL("abc"); got != "https://zpjid.com/bkg/abc?ref=animedub.pro" {
		t.Errorf("EmbedURL = %q", got)
	}
	if got := cfg.EmbedReferer("abc"); got != "https://zpjid.com/bkg/abc" {
		t.Errorf("EmbedReferer = %q", got)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg := LoadFrom(newViper(t, map[string]any{
		KeyPort:                   "8080",
		KeySegmentTimeout:         "4",
		KeyGlobalProxies:          "socks5://a:1, ,http://b:2",
		KeyMaxConcurrentDownloads: 0,
		KeyEmbedPath:              "e",
		KeyBaseURL:                "http://example.com/",
	}))

	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SegmentTimeout != 4*time.Second {
		t.Errorf("SegmentTimeout = %v, want 4s", cfg.SegmentTimeout)
	}
	if len(cfg.GlobalProxies) != 2 || cfg.GlobalProxies[1] != "http://b:2" {
		t.Errorf("GlobalProxies = %v", cfg.GlobalProxies)
	}
	if cfg.MaxConcurrentDownloads != 1 {
		t.Errorf("MaxConcurrentDownloads = %d, want clamp to 1", cfg.MaxConcurrentDownloads)
	}
	if cfg.EmbedPath != "/e/" {
		t.Errorf("EmbedPath = %q", cfg.EmbedPath)
	}
	if cfg.BaseURL != "http://example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestLegacyGlobalProxy(t *testing.T) {
	cfg := LoadFrom(newViper(t, map[string]any{KeyGlobalProxy: "http://p:3128"}))
	if len(cfg.GlobalProxies) != 1 || cfg.GlobalProxies[0] != "http://p:3128" {
		t.Errorf("GlobalProxies = %v", cfg.GlobalProxies)
	}
}

func TestParseTransportRoutes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []TransportRoute
	}{
		{"empty", "", nil},
		{
			"single",
			"{URL=zpjid.com, PROXY=socks5://127.0.0.1:9050}",
			[]TransportRoute{{URLPattern: "zpjid.com", Proxy: "socks5://127.0.0.1:9050"}},
		},
		{
			"multiple",
			"{URL=a.com, DISABLE_SSL=true}, {URL=b.com, DIRECT=true}",
			[]TransportRoute{
				{URLPattern: "a.com", DisableSSL: true},
				{URLPattern: "b.com", Direct: true},
			},
		},
		{"missing url", "{PROXY=http://x}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTransportRoutes(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d routes, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("route %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
