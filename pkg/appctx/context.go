// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"hls-scrape-proxy/pkg/config"
	"hls-scrape-proxy/pkg/interfaces"
	"hls-scrape-proxy/pkg/logging"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config     *config.Config
	Log        *logging.Logger
	Proxy      interfaces.Proxier
	Discoverer interfaces.Discoverer
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log,
	}
}

// WithProxy sets the proxy service behind /proxy.
func (c *Context) WithProxy(p interfaces.Proxier) *Context {
	c.Proxy = p
	return c
}

// WithDiscoverer sets the page discoverer behind /scrape.
func (c *Context) WithDiscoverer(d interfaces.Discoverer) *Context {
	c.Discoverer = d
	return c
}
