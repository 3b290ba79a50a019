// Package services holds the request-scoped proxy logic behind /proxy.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hls-scrape-proxy/pkg/handlers/streams"
	"hls-scrape-proxy/pkg/interfaces"
	"hls-scrape-proxy/pkg/logging"
	"hls-scrape-proxy/pkg/metrics"
	"hls-scrape-proxy/pkg/types"
	"hls-scrape-proxy/pkg/urlutil"
)

// ErrInvalidTarget is returned before any upstream call when the target URL
// is missing or not an absolute http(s) URL.
var ErrInvalidTarget = errors.New("invalid or missing url")

// ErrPlaylistTooLarge is the cause of an UpstreamError for oversized playlists.
var ErrPlaylistTooLarge = errors.New("playlist exceeds size limit")

// ErrPartialPlaylist is the cause of an UpstreamError when a ranged request
// turned out to be a playlist and upstream answered with only part of it.
var ErrPartialPlaylist = errors.New("partial playlist response")

// UpstreamError describes a failed upstream fetch. It is logged, never shown
// to clients.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ProxyOptions tunes upstream requests.
type ProxyOptions struct {
	// UserAgent is sent when the client passed no h_User_Agent.
	UserAgent string
	// MaxPlaylistBytes caps buffered playlist bodies. Zero means 16 MiB.
	MaxPlaylistBytes int64
}

// ProxyService fetches one upstream target per call, then rewrites it as a
// playlist or hands its body over for relay.
type ProxyService struct {
	client  interfaces.HTTPClient
	log     *logging.Logger
	hls     *streams.HLSHandler
	generic *streams.GenericHandler
	opts    ProxyOptions
}

// NewProxyService creates a new proxy service.
func NewProxyService(
	client interfaces.HTTPClient,
	log *logging.Logger,
	hls *streams.HLSHandler,
	generic *streams.GenericHandler,
	opts ProxyOptions,
) *ProxyService {
	if opts.MaxPlaylistBytes <= 0 {
		opts.MaxPlaylistBytes = 16 << 20
	}
	return &ProxyService{
		client:  client,
		log:     log.WithComponent("proxy-service"),
		hls:     hls,
		generic: generic,
		opts:    opts,
	}
}

// Proxy fetches req.URL once. Playlists are read fully and rewritten; media
// responses keep the live upstream body, which the caller must close. The
// upstream request is bound to ctx, so cancelling ctx aborts the transfer.
func (s *ProxyService) Proxy(ctx context.Context, req *types.ProxyRequest) (*types.StreamResponse, error) {
	target, err := urlutil.ParseTarget(req.URL)
	if err != nil {
		metrics.ObserveProxy("", metrics.ResultInvalid)
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		metrics.ObserveProxy("", metrics.ResultInvalid)
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" && s.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.opts.UserAgent)
	}
	// A partial playlist cannot be rewritten, so Range only goes to media URLs.
	if req.Range != "" && !urlutil.HasManifestExtension(target) {
		httpReq.Header.Set("Range", req.Range)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		metrics.ObserveProxy("", metrics.ResultUpstreamError)
		return nil, &UpstreamError{URL: req.URL, Err: err}
	}
	kind := streams.Classify(target, resp.Header.Get("Content-Type"))
	metrics.ObserveUpstreamFetch(kind, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drainAndClose(resp.Body)
		metrics.ObserveProxy(kind, metrics.ResultUpstreamError)
		return nil, &UpstreamError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	s.log.Debug("upstream response",
		"url", req.URL,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"kind", kind,
	)

	if kind == types.KindMedia {
		metrics.ObserveProxy(kind, metrics.ResultOK)
		return s.generic.Response(target, resp), nil
	}

	if resp.StatusCode == http.StatusPartialContent {
		drainAndClose(resp.Body)
		metrics.ObserveProxy(kind, metrics.ResultUpstreamError)
		return nil, &UpstreamError{URL: req.URL, StatusCode: resp.StatusCode, Err: ErrPartialPlaylist}
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxPlaylistBytes+1))
	if err != nil {
		metrics.ObserveProxy(kind, metrics.ResultUpstreamError)
		return nil, &UpstreamError{URL: req.URL, StatusCode: resp.StatusCode, Err: fmt.Errorf("read playlist: %w", err)}
	}
	if int64(len(body)) > s.opts.MaxPlaylistBytes {
		metrics.ObserveProxy(kind, metrics.ResultUpstreamError)
		return nil, &UpstreamError{URL: req.URL, StatusCode: resp.StatusCode, Err: ErrPlaylistTooLarge}
	}

	rewritten := s.hls.Rewrite(body, target, req.Headers)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = streams.PlaylistContentType
	}

	metrics.ObserveProxy(kind, metrics.ResultOK)
	return &types.StreamResponse{
		Kind:        types.KindPlaylist,
		ContentType: contentType,
		Body:        io.NopCloser(bytes.NewReader(rewritten)),
		StatusCode:  http.StatusOK,
		Headers: map[string]string{
			"Cache-Control":  "no-cache, no-store, must-revalidate",
			"Content-Length": fmt.Sprint(len(rewritten)),
		},
	}, nil
}

// drainAndClose discards a small remainder so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

var _ interfaces.Proxier = (*ProxyService)(nil)
