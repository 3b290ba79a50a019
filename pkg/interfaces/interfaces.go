// Package interfaces defines the core abstractions shared between packages.
package interfaces

import (
	"context"
	"net/http"

	"hls-scrape-proxy/pkg/types"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Proxier fetches a target and returns a rewritten playlist or a media stream.
type Proxier interface {
	Proxy(ctx context.Context, req *types.ProxyRequest) (*types.StreamResponse, error)
}

// Discoverer renders a page and returns the distinct manifest URLs it loaded.
// An empty result with a nil error means the page loaded but had no manifests.
type Discoverer interface {
	Discover(ctx context.Context, pageURL string) ([]string, error)
}
