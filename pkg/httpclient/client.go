// Package httpclient provides the upstream HTTP client with proxy routing
// and optional browser-like TLS fingerprints.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"hls-scrape-proxy/pkg/config"
	"hls-scrape-proxy/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Client wraps http.Client with proxy routing and connection pooling.
//
// None of the underlying clients carry an overall Timeout: media bodies are
// relayed for as long as the player keeps reading. Connect and
// response-header waits are bounded by the configured upstream timeout and
// the request context cancels everything else.
type Client struct {
	defaultClient *http.Client
	utlsClient    *http.Client
	proxyClients  map[string]*http.Client
	routes        []config.TransportRoute
	globalProxies []string
	utlsDomains   []string
	headerTimeout time.Duration
	mu            sync.RWMutex
	log           *logging.Logger
}

func newDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 60 * time.Second,
	}
}

// ipv4DialContext forces IPv4-only connections.
func ipv4DialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := newDialer(timeout)
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if network == "tcp" {
			network = "tcp4"
		}
		return d.DialContext(ctx, network, addr)
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		proxyClients:  make(map[string]*http.Client),
		routes:        cfg.TransportRoutes,
		globalProxies: cfg.GlobalProxies,
		utlsDomains:   cfg.UTLSDomains,
		headerTimeout: timeout,
		log:           log.WithComponent("httpclient"),
	}

	c.defaultClient = &http.Client{Transport: c.newTransport()}
	c.utlsClient = &http.Client{Transport: newUTLSRoundTripper(timeout)}

	return c
}

func (c *Client) newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           ipv4DialContext(c.headerTimeout),
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: c.headerTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// utlsRoundTripper implements http.RoundTripper with utls and HTTP/2 support
type utlsRoundTripper struct {
	dialer        *net.Dialer
	h2Transport   *http2.Transport
	fallback      http.RoundTripper
	headerTimeout time.Duration
}

func newUTLSRoundTripper(timeout time.Duration) *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer:        newDialer(timeout),
		headerTimeout: timeout,
		h2Transport: &http2.Transport{
			DisableCompression: false,
			AllowHTTP:          false,
		},
		fallback: &http.Transport{
			DialContext:           ipv4DialContext(timeout),
			ResponseHeaderTimeout: timeout,
		},
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.fallback.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	// Chrome fingerprint, ALPN offers h2 and http/1.1
	utlsConn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	if err := utlsConn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := h2Conn.RoundTrip(req)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp.Body = &connCloser{ReadCloser: resp.Body, conn: utlsConn}
		return resp, nil
	}

	return t.doHTTP1Request(utlsConn, req)
}

// doHTTP1Request runs req over a dedicated connection. Cancelling the
// request context closes the connection, which unblocks any pending read of
// the headers or the body. The header wait is bounded by headerTimeout.
func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	fail := func(err error) (*http.Response, error) {
		stop()
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if t.headerTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(t.headerTimeout)); err != nil {
			return fail(err)
		}
	}
	if err := req.Write(conn); err != nil {
		return fail(err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fail(err)
	}
	// Bodies are streamed for as long as the client keeps reading.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		resp.Body.Close()
		return fail(err)
	}

	resp.Body = &connCloser{ReadCloser: resp.Body, conn: conn, stop: stop}
	return resp, nil
}

// connCloser closes the dedicated connection together with the body.
type connCloser struct {
	io.ReadCloser
	conn net.Conn
	stop func() bool
}

func (c *connCloser) Close() error {
	if c.stop != nil {
		c.stop()
	}
	c.ReadCloser.Close()
	return c.conn.Close()
}

// needsUTLS returns true if the URL requires browser-like TLS fingerprinting.
func (c *Client) needsUTLS(targetURL string) bool {
	lower := strings.ToLower(targetURL)
	for _, domain := range c.utlsDomains {
		if strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// Do executes an HTTP request, routing through proxies as configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.getClientForURL(req.URL.String()).Do(req)
}

// CloseIdleConnections closes idle connections on every pooled client.
func (c *Client) CloseIdleConnections() {
	c.defaultClient.CloseIdleConnections()
	c.utlsClient.CloseIdleConnections()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, client := range c.proxyClients {
		client.CloseIdleConnections()
	}
}

// getClientForURL returns the appropriate HTTP client based on URL routing rules.
func (c *Client) getClientForURL(targetURL string) *http.Client {
	if c.needsUTLS(targetURL) {
		c.log.Debug("using utls client", "url", targetURL)
		return c.utlsClient
	}

	// Transport routes are the most specific match
	for _, route := range c.routes {
		if !strings.Contains(targetURL, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "url", targetURL, "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

		if route.Direct {
			if route.DisableSSL {
				return c.getInsecureClient()
			}
			return c.defaultClient
		}
		if route.Proxy != "" {
			return c.getOrCreateProxyClient(route.Proxy, route.DisableSSL)
		}
		if route.DisableSSL {
			return c.getInsecureClient()
		}
	}

	if len(c.globalProxies) > 0 {
		proxyURL := c.globalProxies[0]
		c.log.Debug("using global proxy", "url", targetURL, "proxy", proxyURL)
		return c.getOrCreateProxyClient(proxyURL, false)
	}

	return c.defaultClient
}

// getOrCreateProxyClient returns a cached proxy client or creates a new one.
func (c *Client) getOrCreateProxyClient(proxyURL string, disableSSL bool) *http.Client {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	if client, ok := c.proxyClients[cacheKey]; ok {
		c.mu.RUnlock()
		return client
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.proxyClients[cacheKey]; ok {
		return client
	}

	client := c.createProxyClient(proxyURL, disableSSL)
	c.proxyClients[cacheKey] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)

	return client
}

// createProxyClient creates a new HTTP client for the given proxy.
func (c *Client) createProxyClient(proxyURL string, disableSSL bool) *http.Client {
	transport := c.newTransport()

	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL == "" {
		return &http.Client{Transport: transport}
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsedURL.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsedURL, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsedURL.Scheme)
		return c.defaultClient
	}

	return &http.Client{Transport: transport}
}

// getInsecureClient returns a client that skips SSL verification.
func (c *Client) getInsecureClient() *http.Client {
	return c.getOrCreateProxyClient("", true)
}

// ParseHeaderParams extracts upstream headers from h_ prefixed query
// parameters, converting underscores to hyphens (h_User_Agent -> User-Agent).
func ParseHeaderParams(query url.Values) map[string]string {
	headers := make(map[string]string)
	for key, values := range query {
		if strings.HasPrefix(key, "h_") && len(key) > 2 && len(values) > 0 {
			headerName := http.CanonicalHeaderKey(strings.ReplaceAll(key[2:], "_", "-"))
			headers[headerName] = values[0]
		}
	}
	return headers
}
