// Package api provides HTTP handlers for the proxy API.
package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hls-scrape-proxy/pkg/appctx"
	"hls-scrape-proxy/pkg/handlers/streams"
	"hls-scrape-proxy/pkg/httpclient"
	"hls-scrape-proxy/pkg/logging"
	"hls-scrape-proxy/pkg/metrics"
	"hls-scrape-proxy/pkg/middleware"
	"hls-scrape-proxy/pkg/services"
	"hls-scrape-proxy/pkg/types"
)

//go:embed static/index.html
var indexHTML []byte

// Client-facing messages. Causes are logged, never sent.
const (
	msgInvalidTarget = "Invalid or missing URL"
	msgBadGateway    = "Bad Gateway"
	msgMissingPage   = "Missing ?url="
	msgScrapeFailed  = "Scraping failed."
	msgNoManifests   = "No .m3u8 links found."
)

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
	cfg := h.ctx.Config

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /health", h.handleHealth)

	scrapeLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: cfg.ScrapeRateLimit,
		WindowSize:   cfg.ScrapeRateWindow,
	})
	mux.Handle("GET /scrape", scrapeLimit(http.HandlerFunc(h.handleScrape)))
	mux.HandleFunc("GET /proxy", h.handleProxy)

	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// handleIndex serves the player page.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	if path := h.ctx.Config.IndexFile; path != "" {
		http.ServeFile(w, r, path)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScrape renders ?url= in a browser and lists the manifests it loaded.
func (h *Handlers) handleScrape(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		h.writeError(w, http.StatusBadRequest, msgMissingPage)
		return
	}

	log := logging.FromContext(r.Context(), h.log)
	start := time.Now()

	links, err := h.ctx.Discoverer.Discover(r.Context(), pageURL)
	if err != nil {
		metrics.ObserveScrape(metrics.ScrapeError, time.Since(start))
		log.WithError(err).Error("scrape failed", "page", pageURL)
		h.writeError(w, http.StatusInternalServerError, msgScrapeFailed)
		return
	}
	if len(links) == 0 {
		metrics.ObserveScrape(metrics.ScrapeEmpty, time.Since(start))
		h.writeJSON(w, http.StatusNotFound, map[string]string{"message": msgNoManifests})
		return
	}

	metrics.ObserveScrape(metrics.ScrapeFound, time.Since(start))
	h.writeJSON(w, http.StatusOK, types.ScrapeResult{M3U8: links})
}

// handleProxy fetches ?url= and returns it rewritten or relayed.
func (h *Handlers) handleProxy(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &types.ProxyRequest{
		URL:     query.Get("url"),
		Headers: httpclient.ParseHeaderParams(query),
		Range:   r.Header.Get("Range"),
	}

	resp, err := h.ctx.Proxy.Proxy(r.Context(), req)
	if err != nil {
		log := logging.FromContext(r.Context(), h.log)
		if errors.Is(err, services.ErrInvalidTarget) {
			log.Debug("rejected proxy target", "url", req.URL, "error", err)
			h.writeText(w, http.StatusBadRequest, msgInvalidTarget)
			return
		}
		log.WithError(err).Warn("proxy error", "url", req.URL)
		h.writeText(w, http.StatusBadGateway, msgBadGateway)
		return
	}

	h.writeStreamResponse(w, r, resp)
}

// Helper methods

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("write json failed", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handlers) writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

// writeStreamResponse sends headers then relays the body. A relay that
// fails after headers are out aborts the connection so the client sees a
// truncated response rather than a complete one.
func (h *Handlers) writeStreamResponse(w http.ResponseWriter, r *http.Request, resp *types.StreamResponse) {
	defer resp.Close()

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead || resp.Body == nil {
		return
	}

	n, err := streams.CopyStream(w, resp.Body)
	metrics.AddRelayedBytes(resp.Kind, n)
	if err == nil {
		return
	}

	log := logging.FromContext(r.Context(), h.log).With("kind", resp.Kind, "bytes", n)
	if r.Context().Err() != nil {
		log.Debug("client went away during relay")
	} else {
		log.WithError(err).Warn("relay aborted")
	}
	panic(http.ErrAbortHandler)
}
