// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"fmt"

	"vidproxy/pkg/config"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config    *config.Config
	Log       *logging.Logger
	Videos    *services.VideoService
	Proxy     *services.ProxyService
	Downloads *services.DownloadService
	BaseURL   string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: baseURL,
	}
}

// WithVideoService sets the video service.
func (c *Context) WithVideoService(vs *services.VideoService) *Context {
	c.Videos = vs
	return c
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.Proxy = ps
	return c
}

// WithDownloadService sets the download service.
func (c *Context) WithDownloadService(ds *services.DownloadService) *Context {
	c.Downloads = ds
	return c
}
