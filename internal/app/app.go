// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"

	"vidproxy/pkg/appctx"
	"vidproxy/pkg/cache"
	"vidproxy/pkg/config"
	"vidproxy/pkg/downloader"
	"vidproxy/pkg/fetcher"
	"vidproxy/pkg/flaresolverr"
	"vidproxy/pkg/handlers/api"
	"vidproxy/pkg/httpclient"
	"vidproxy/pkg/interfaces"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/rewriter"
	"vidproxy/pkg/server"
	"vidproxy/pkg/services"
	"vidproxy/pkg/store"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Fetcher    *fetcher.Fetcher
	Store      *store.Store
}

// New wires every component for cfg.
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	log.Info("initializing vidproxy",
		"port", cfg.Port,
		"embed_host", cfg.EmbedHost,
		"output_dir", cfg.OutputDir,
		"log_level", cfg.LogLevel,
	)

	ctx := appctx.New(cfg, log)

	httpClient := httpclient.New(cfg, log)
	f := fetcher.New(httpClient, cfg, log)

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	descriptors := cache.New(st, cfg.DescriptorTTL, log)
	addr := rewriter.NewAddresser(cfg.BaseURL).WithPassword(cfg.APIPassword)
	rw := rewriter.New(addr, log)

	videos := services.NewVideoService(pageFetcher(cfg, f, log), addr, st, descriptors, cfg.OutputDir, log)
	proxy := services.NewProxyService(f, rw, descriptors, log)
	downloads := services.NewDownloadService(videos, st, downloader.Options{
		FFmpegPath: cfg.FFmpegPath,
		Referer:    "https://" + cfg.EmbedHost + "/",
		Workers:    cfg.MaxConcurrentDownloads,
		QueueSize:  cfg.DownloadQueueSize,
	}, log)

	ctx.WithVideoService(videos).
		WithProxyService(proxy).
		WithDownloadService(downloads)

	// Create HTTP server
	srv := server.New(cfg, log)

	// Create API handlers
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Fetcher:    f,
		Store:      st,
	}, nil
}

// pageFetcher picks FlareSolverr when it is configured, else the direct
// two-step warm-up.
func pageFetcher(cfg *config.Config, f *fetcher.Fetcher, log *logging.Logger) interfaces.PageFetcher {
	if cfg.FlareSolverrURL == "" {
		return f
	}
	client := flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
	log.Info("FlareSolverr page fetching enabled", "url", cfg.FlareSolverrURL)
	return flaresolverr.NewPageFetcher(client, cfg, log)
}

// Run serves the API until ctx is cancelled or a termination signal arrives.
// Jobs left unfinished by a previous process are marked failed first.
func (a *App) Run(ctx context.Context) error {
	if err := a.Ctx.Downloads.MarkInterrupted(ctx); err != nil {
		a.Ctx.Log.Warn("failed to mark interrupted downloads", "error", err)
	}
	a.Ctx.Log.Info("starting vidproxy server", "port", a.Ctx.Config.Port)
	return a.Server.Start(ctx)
}

// Shutdown stops running downloads and closes the store.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if a.Ctx.Downloads != nil {
		a.Ctx.Downloads.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Ctx.Log.Error("failed to close store", "error", err)
		}
	}
}
