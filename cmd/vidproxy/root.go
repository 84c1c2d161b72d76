package main

import (
	"io"
	"os"

	"vidproxy/internal/app"
	"vidproxy/pkg/config"
	"vidproxy/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps persistent flags to their configuration keys.
var flagKeys = []struct {
	flag, key, usage string
	def              any
}{
	{"port", config.KeyPort, "HTTP listen port", 3000},
	{"base-url", config.KeyBaseURL, "public base URL used in proxy links (empty for relative links)", ""},
	{"api-password", config.KeyAPIPassword, "password required by the API", ""},
	{"output-dir", config.KeyOutputDir, "directory for downloads", "output"},
	{"db-path", config.KeyDBPath, "sqlite database path (default <output-dir>/vidproxy.db)", ""},
	{"ffmpeg", config.KeyFFmpegPath, "ffmpeg executable", "ffmpeg"},
	{"embed-host", config.KeyEmbedHost, "host serving the player embeds", "zpjid.com"},
	{"flaresolverr-url", config.KeyFlareSolverrURL, "fetch embed pages through this FlareSolverr instance", ""},
	{"log-level", config.KeyLogLevel, "log level (debug, info, warn, error)", "info"},
	{"log-json", config.KeyLogJSON, "log in JSON format", false},
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vidproxy",
		Short:         "Scrape player embeds, proxy their HLS streams and download them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	for _, f := range flagKeys {
		switch def := f.def.(type) {
		case int:
			flags.Int(f.flag, def, f.usage)
		case bool:
			flags.Bool(f.flag, def, f.usage)
		case string:
			flags.String(f.flag, def, f.usage)
		}
		viper.BindPFlag(f.key, flags.Lookup(f.flag))
	}

	root.AddCommand(
		newServeCmd(),
		newScrapeCmd(),
		newUnpackCmd(),
		newDownloadCmd(),
	)
	return root
}

// loadApp builds the application with logs written to w.
func loadApp(w io.Writer) (*app.App, error) {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogJSON, w)
	return app.New(cfg, log)
}

// stderrApp is used by commands whose stdout carries results.
func stderrApp() (*app.App, error) {
	return loadApp(os.Stderr)
}
