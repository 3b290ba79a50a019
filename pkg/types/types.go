// Package types defines core domain types used throughout the application.
package types

import (
	"io"
)

// ResourceKind is the classification of a fetched upstream resource.
type ResourceKind string

const (
	// KindPlaylist is a text manifest whose references get rewritten.
	KindPlaylist ResourceKind = "playlist"
	// KindMedia is anything else, relayed byte for byte.
	KindMedia ResourceKind = "media"
)

// ProxyRequest is an inbound /proxy request after query parsing.
type ProxyRequest struct {
	// URL is the absolute upstream target.
	URL string
	// Headers are sent upstream and carried onto rewritten references.
	Headers map[string]string
	// Range is the client's Range header, forwarded for media targets.
	Range string
}

// StreamResponse represents the result of proxying one target.
type StreamResponse struct {
	Kind        ResourceKind
	ContentType string
	Headers     map[string]string
	Body        io.ReadCloser
	StatusCode  int
}

// Close releases the response body, if any.
func (r *StreamResponse) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// ScrapeResult is the JSON body of a successful /scrape call.
type ScrapeResult struct {
	M3U8 []string `json:"m3u8"`
}
