// Package api provides HTTP handlers for the vidproxy API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"vidproxy/pkg/appctx"
	"vidproxy/pkg/downloader"
	"vidproxy/pkg/fetcher"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/services"
	"vidproxy/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /favicon.ico", h.handleFavicon)
	mux.HandleFunc("GET /api/health", h.handleHealth)

	// Video routes
	mux.HandleFunc("GET /api/videos", h.handleListVideos)
	mux.HandleFunc("GET /api/videos/{videoId}", h.handleGetVideo)
	mux.HandleFunc("DELETE /api/videos/{videoId}", h.handleDeleteVideo)
	mux.HandleFunc("GET /api/videos/{videoId}/cookies", h.handleCookies)
	mux.HandleFunc("GET /api/videos/{videoId}/variants", h.handleVariants)

	// Proxy routes
	mux.HandleFunc("GET /api/proxy/m3u8", h.handleProxyManifest)
	mux.HandleFunc("GET /api/proxy/segment", h.handleProxySegment)

	// Download routes
	mux.HandleFunc("POST /api/videos/{videoId}/download", h.handleStartDownload)
	mux.HandleFunc("GET /api/videos/{videoId}/download/status", h.handleDownloadStatus)
	mux.HandleFunc("GET /api/downloads/{jobId}", h.handleGetDownload)
	mux.HandleFunc("GET /downloads/{videoId}/{file}", h.handleDownloadFile)
}

// handleIndex serves the API documentation page.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexPage, Version, h.ctx.BaseURL)
}

// handleFavicon serves the favicon.
func (h *Handlers) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// handleHealth reports that the server is running.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "vidproxy is running",
		"version": Version,
	})
}

// handleGetVideo returns the descriptor of a video, scraping it when no live
// one is cached or when refresh=true.
func (h *Handlers) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")
	refresh := r.URL.Query().Get("refresh") == "true"

	d, err := h.ctx.Videos.Get(r.Context(), videoID, refresh)
	if err != nil {
		h.fail(w, "get video failed", err, "video_id", videoID)
		return
	}

	resp := map[string]any{"success": true, "data": d}
	if uri, ok := d.BestPlaybackURI(0); ok {
		resp["playbackUrl"] = uri
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleCookies returns the stored cookies of a video in every form.
func (h *Handlers) handleCookies(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")

	d, err := h.ctx.Videos.Stored(r.Context(), videoID)
	if errors.Is(err, services.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "cookies not found, fetch the video first",
			"message": "use GET /api/videos/" + videoID + " to scrape the video and its cookies",
		})
		return
	}
	if err != nil {
		h.fail(w, "get cookies failed", err, "video_id", videoID)
		return
	}

	h.writeData(w, http.StatusOK, map[string]any{
		"videoId":            d.VideoID,
		"cookies":            d.CookieHeader,
		"simpleCookieFormat": d.SimpleCookieHeader,
		"rawCookies":         d.RawCookies,
		"parsedCookies":      d.Cookies,
		"scrapedAt":          d.ScrapedAt,
	})
}

// handleVariants lists the renditions of one source's manifest.
func (h *Handlers) handleVariants(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")

	index, err := intParam(r, "source", 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "source must be an integer")
		return
	}

	d, err := h.ctx.Videos.Get(r.Context(), videoID, false)
	if err != nil {
		h.fail(w, "get video failed", err, "video_id", videoID)
		return
	}

	info, err := h.ctx.Proxy.Inspect(r.Context(), d, index)
	if err != nil {
		h.fail(w, "inspect manifest failed", err, "video_id", videoID, "source", index)
		return
	}
	h.writeData(w, http.StatusOK, info)
}

// handleListVideos lists every stored video with its downloads.
func (h *Handlers) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.ctx.Videos.List(r.Context())
	if err != nil {
		h.fail(w, "list videos failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(videos),
		"data":    videos,
	})
}

// handleDeleteVideo removes a video with its cookies, jobs and files.
func (h *Handlers) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")
	if err := h.ctx.Videos.Delete(r.Context(), videoID); err != nil {
		h.fail(w, "delete video failed", err, "video_id", videoID)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("video %s deleted", videoID),
	})
}

// handleProxyManifest fetches a manifest with the video's cookies and
// returns it rewritten to proxy links.
func (h *Handlers) handleProxyManifest(w http.ResponseWriter, r *http.Request) {
	req := parseProxyRequest(r)
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	h.log.Debug("proxy manifest request", "url", req.URL, "video_id", req.VideoID)

	resp, err := h.ctx.Proxy.HandleManifest(r.Context(), req)
	if err != nil {
		h.fail(w, "proxy manifest failed", err, "url", req.URL)
		return
	}
	h.writeProxyResponse(w, resp)
}

// handleProxySegment relays a segment, key or subtitle. Manifest URLs are
// rewritten as on the manifest endpoint.
func (h *Handlers) handleProxySegment(w http.ResponseWriter, r *http.Request) {
	req := parseProxyRequest(r)
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	h.log.Debug("proxy segment request", "url", req.URL, "video_id", req.VideoID)

	resp, err := h.ctx.Proxy.HandleSegment(r.Context(), req)
	if err != nil {
		h.fail(w, "proxy segment failed", err, "url", req.URL)
		return
	}
	h.writeProxyResponse(w, resp)
}

// handleStartDownload starts an ffmpeg download of one source.
func (h *Handlers) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")

	var body struct {
		SourceIndex int `json:"sourceIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket, err := h.ctx.Downloads.Start(r.Context(), videoID, body.SourceIndex)
	if err != nil {
		h.fail(w, "start download failed", err, "video_id", videoID, "source", body.SourceIndex)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "download started",
		"data":    ticket,
	})
}

// handleDownloadStatus reports the downloads of one video.
func (h *Handlers) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")
	report, err := h.ctx.Downloads.Status(r.Context(), videoID)
	if err != nil {
		h.fail(w, "download status failed", err, "video_id", videoID)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  report.Status,
		"data":    report,
	})
}

// handleGetDownload returns one download job.
func (h *Handlers) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctx.Downloads.Job(r.Context(), r.PathValue("jobId"))
	if err != nil {
		h.fail(w, "get download failed", err, "job_id", r.PathValue("jobId"))
		return
	}
	h.writeData(w, http.StatusOK, job)
}

// handleDownloadFile serves a finished download from the output directory.
func (h *Handlers) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")
	name := r.PathValue("file")
	if services.ValidateVideoID(videoID) != nil || name != filepath.Base(name) || filepath.Ext(name) != ".mp4" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, filepath.Join(h.ctx.Videos.OutputDir(videoID), name))
}

// Helper methods

func parseProxyRequest(r *http.Request) services.ProxyRequest {
	q := r.URL.Query()
	return services.ProxyRequest{
		URL:     q.Get("url"),
		VideoID: q.Get("videoId"),
		Referer: q.Get("referer"),
		Cookies: q.Get("cookies"),
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var upErr *fetcher.UpstreamError
	switch {
	case errors.As(err, &upErr):
		if upErr.StatusCode >= 400 && upErr.StatusCode < 600 {
			return upErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, fetcher.ErrNonTextManifest),
		errors.Is(err, services.ErrNoPackedScript):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrJobNotFound),
		errors.Is(err, services.ErrNoSources):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidVideoID),
		errors.Is(err, services.ErrInvalidURL),
		errors.Is(err, services.ErrSourceIndex),
		errors.Is(err, services.ErrNotHLS):
		return http.StatusBadRequest
	case errors.Is(err, downloader.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, downloader.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail logs err and writes it with its mapped status.
func (h *Handlers) fail(w http.ResponseWriter, msg string, err error, args ...any) {
	status := statusFor(err)
	log := h.log.WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, append(args, "status", status)...)
	} else {
		log.Debug(msg, append(args, "status", status)...)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeData(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (h *Handlers) writeProxyResponse(w http.ResponseWriter, resp *types.ProxyResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if resp.ContentType == services.ManifestContentType {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
