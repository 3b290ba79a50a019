// Package metrics exposes Prometheus collectors for proxy and scrape traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hls-scrape-proxy/pkg/types"
)

// Proxy results
const (
	ResultOK            = "ok"
	ResultInvalid       = "invalid"
	ResultUpstreamError = "upstream_error"
)

// Scrape results
const (
	ScrapeFound = "found"
	ScrapeEmpty = "empty"
	ScrapeError = "error"
)

var (
	// ProxyRequestsTotal counts /proxy outcomes by resource kind.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_proxy_requests_total",
		Help: "Proxy requests by resource kind and result",
	}, []string{"kind", "result"})

	// UpstreamFetchDuration tracks time to upstream response headers.
	UpstreamFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hls_proxy_upstream_fetch_seconds",
		Help:    "Time from upstream request to response headers",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	// RelayedBytesTotal counts body bytes written to clients.
	RelayedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_proxy_relayed_bytes_total",
		Help: "Body bytes written to clients by resource kind",
	}, []string{"kind"})

	// ScrapeRequestsTotal counts /scrape outcomes.
	ScrapeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_scrape_requests_total",
		Help: "Scrape requests by result",
	}, []string{"result"})

	// ScrapeDuration tracks full page discovery time.
	ScrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hls_scrape_duration_seconds",
		Help:    "Time spent rendering a page and collecting manifests",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})

	// ScrapeInflight is the number of browser sessions currently running.
	ScrapeInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hls_scrape_inflight",
		Help: "Browser sessions currently rendering a page",
	})
)

// ObserveProxy records one /proxy outcome. kind may be empty when the
// request failed before classification.
func ObserveProxy(kind types.ResourceKind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	ProxyRequestsTotal.WithLabelValues(string(kind), result).Inc()
}

// ObserveUpstreamFetch records the header wait for one upstream fetch.
func ObserveUpstreamFetch(kind types.ResourceKind, d time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	UpstreamFetchDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// AddRelayedBytes adds n to the relayed byte counter.
func AddRelayedBytes(kind types.ResourceKind, n int64) {
	if n <= 0 {
		return
	}
	RelayedBytesTotal.WithLabelValues(string(kind)).Add(float64(n))
}

// ObserveScrape records one /scrape outcome and its duration.
func ObserveScrape(result string, d time.Duration) {
	ScrapeRequestsTotal.WithLabelValues(result).Inc()
	ScrapeDuration.Observe(d.Seconds())
}
