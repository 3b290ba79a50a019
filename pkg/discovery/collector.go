// Package discovery renders a page in headless Chrome and collects the HLS
// manifest URLs it loads.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"hls-scrape-proxy/pkg/interfaces"
	"hls-scrape-proxy/pkg/logging"
	"hls-scrape-proxy/pkg/metrics"
	"hls-scrape-proxy/pkg/urlutil"
)

// ErrInvalidPage is wrapped by Error when the page URL is not absolute http(s).
var ErrInvalidPage = errors.New("invalid page url")

// Error reports a failed discovery. Partial results are never returned
// alongside it.
type Error struct {
	URL string
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Collector.
type Options struct {
	// Timeout bounds a whole discovery. Zero waits indefinitely for the
	// page to go idle; only the caller's context can end it.
	Timeout time.Duration
	// IdleTime and MaxInflight define network quiescence: at most
	// MaxInflight requests outstanding for IdleTime. IdleTime defaults to
	// 500ms; a negative MaxInflight means 2.
	IdleTime    time.Duration
	MaxInflight int
	// MaxConcurrent bounds simultaneous browser processes. Default 2.
	MaxConcurrent int64
	Dialogs       DialogPolicy
	ChromePath    string
	NoSandbox     bool
	UserAgent     string
}

// Collector launches one isolated browser per Discover call.
type Collector struct {
	opts Options
	sem  *semaphore.Weighted
	log  *logging.Logger
}

// New creates a Collector, filling unset options with defaults.
func New(opts Options, log *logging.Logger) *Collector {
	if opts.IdleTime <= 0 {
		opts.IdleTime = 500 * time.Millisecond
	}
	if opts.MaxInflight < 0 {
		opts.MaxInflight = 2
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.Dialogs == nil {
		opts.Dialogs = AcceptDialogs
	}
	return &Collector{
		opts: opts,
		sem:  semaphore.NewWeighted(opts.MaxConcurrent),
		log:  log.WithComponent("discovery"),
	}
}

// Discover navigates to pageURL, waits for the network to go idle and
// returns every distinct response URL whose path ends with .m3u8, in the
// order first seen. A page without manifests yields an empty slice and a
// nil error.
func (c *Collector) Discover(ctx context.Context, pageURL string) ([]string, error) {
	if _, err := urlutil.ParseTarget(pageURL); err != nil {
		return nil, &Error{URL: pageURL, Op: "validate", Err: fmt.Errorf("%w: %w", ErrInvalidPage, err)}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{URL: pageURL, Op: "queue", Err: err}
	}
	defer c.sem.Release(1)

	metrics.ScrapeInflight.Inc()
	defer metrics.ScrapeInflight.Dec()

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	log := c.log.With("page", pageURL)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)
	defer cancelTask()

	s := newSession(pageURL, c.opts.MaxInflight, c.opts.Dialogs, log)
	s.answer = func(accept bool, promptText string) {
		// CDP commands cannot run inside the event callback.
		go func() {
			action := page.HandleJavaScriptDialog(accept).WithPromptText(promptText)
			if err := chromedp.Run(taskCtx, action); err != nil {
				log.Debug("dialog response failed", "error", err)
			}
		}()
	}
	chromedp.ListenTarget(taskCtx, s.handleEvent)

	start := time.Now()
	err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return s.waitIdle(ctx, c.opts.IdleTime)
		}),
	)
	if err != nil {
		return nil, &Error{URL: pageURL, Op: "render", Err: err}
	}

	links := s.links.List()
	log.Info("discovery finished", "manifests", len(links), "duration_ms", time.Since(start).Milliseconds())
	return links, nil
}

func (c *Collector) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if c.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.opts.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ChromePath))
	}
	if c.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.opts.UserAgent))
	}
	return opts
}

// session is the state of one Discover call.
type session struct {
	pageURL string
	links   *LinkSet
	idle    *idleTracker
	policy  DialogPolicy
	answer  func(accept bool, promptText string)
	log     *logging.Logger
	now     func() time.Time
}

func newSession(pageURL string, maxInflight int, policy DialogPolicy, log *logging.Logger) *session {
	return &session{
		pageURL: pageURL,
		links:   NewLinkSet(),
		idle:    newIdleTracker(maxInflight, time.Now()),
		policy:  policy,
		log:     log,
		now:     time.Now,
	}
}

func (s *session) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.RedirectResponse != nil {
			s.record(e.RedirectResponse.URL)
		}
		if e.Request != nil && isInlineURL(e.Request.URL) {
			return
		}
		s.idle.Begin(string(e.RequestID), s.now())
	case *network.EventResponseReceived:
		if e.Response != nil {
			s.record(e.Response.URL)
		}
	case *network.EventLoadingFinished:
		s.idle.End(string(e.RequestID), s.now())
	case *network.EventLoadingFailed:
		s.idle.End(string(e.RequestID), s.now())
	case *page.EventJavascriptDialogOpening:
		d := Dialog{
			Type:          string(e.Type),
			Message:       e.Message,
			DefaultPrompt: e.DefaultPrompt,
			URL:           e.URL,
		}
		accept, text := s.policy.Respond(d)
		s.log.Debug("answering dialog", "type", d.Type, "accept", accept)
		if s.answer != nil {
			s.answer(accept, text)
		}
	}
}

func (s *session) record(rawURL string) {
	if s.links.Add(rawURL) {
		s.log.Debug("found manifest", "url", rawURL)
	}
}

// waitIdle polls until the tracker reports quiescence or ctx ends.
func (s *session) waitIdle(ctx context.Context, window time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.idle.Idle(s.now(), window) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isInlineURL reports URLs that never touch the network.
func isInlineURL(raw string) bool {
	return strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:")
}

var _ interfaces.Discoverer = (*Collector)(nil)
