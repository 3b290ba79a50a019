// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"time"

	"hls-scrape-proxy/pkg/appctx"
	"hls-scrape-proxy/pkg/config"
	"hls-scrape-proxy/pkg/discovery"
	"hls-scrape-proxy/pkg/handlers/api"
	"hls-scrape-proxy/pkg/handlers/streams"
	"hls-scrape-proxy/pkg/httpclient"
	"hls-scrape-proxy/pkg/logging"
	"hls-scrape-proxy/pkg/server"
	"hls-scrape-proxy/pkg/services"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
}

// New creates and initializes the application.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires the application from an already loaded configuration.
func NewWithConfig(cfg *config.Config) (*App, error) {
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing hls-scrape-proxy", "port", cfg.Port, "log_level", cfg.LogLevel)

	dialogs, err := discovery.ParseDialogPolicy(cfg.ScrapeDialogs)
	if err != nil {
		return nil, fmt.Errorf("SCRAPE_DIALOGS: %w", err)
	}

	ctx := appctx.New(cfg, log)

	httpClient := httpclient.New(cfg, log)

	proxy := services.NewProxyService(
		httpClient,
		log,
		streams.NewHLSHandler(log, cfg.ProxyBaseURL),
		streams.NewGenericHandler(log),
		services.ProxyOptions{
			UserAgent:        cfg.UpstreamUA,
			MaxPlaylistBytes: cfg.MaxPlaylistBytes,
		},
	)
	ctx.WithProxy(proxy)

	collector := discovery.New(discovery.Options{
		Timeout:       cfg.ScrapeTimeout,
		IdleTime:      cfg.ScrapeIdleTime,
		MaxInflight:   cfg.ScrapeIdleInflight,
		MaxConcurrent: int64(cfg.ScrapeMaxConcurrent),
		Dialogs:       dialogs,
		ChromePath:    cfg.ChromePath,
		NoSandbox:     cfg.ChromeNoSandbox,
		UserAgent:     cfg.UpstreamUA,
	}, log)
	ctx.WithDiscoverer(collector)

	if cfg.ScrapeTimeout == 0 {
		log.Info("scrape timeout disabled, discovery waits for network idle indefinitely")
	}

	srv := server.New(cfg, log)
	api.NewHandlers(ctx).RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting hls-scrape-proxy server", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Ctx.Log.Warn("server shutdown", "error", err)
	}
	a.HTTPClient.CloseIdleConnections()
}
