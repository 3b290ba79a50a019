package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-scrape-proxy/pkg/logging"
)

func TestLinkSet(t *testing.T) {
	s := NewLinkSet()

	assert.True(t, s.Add("https://cdn.example/live/index.m3u8"))
	assert.False(t, s.Add("https://cdn.example/live/index.m3u8"), "duplicate")
	assert.True(t, s.Add("https://cdn.example/live/index.M3U8?token=1"))
	assert.False(t, s.Add("https://cdn.example/live/seg0.ts"))
	assert.False(t, s.Add("https://cdn.example/page?next=a.m3u8"))
	assert.True(t, s.Add("https://other.example/master.m3u8"))

	assert.Equal(t, []string{
		"https://cdn.example/live/index.m3u8",
		"https://cdn.example/live/index.M3U8?token=1",
		"https://other.example/master.m3u8",
	}, s.List())
	assert.Equal(t, 3, s.Len())
}

func TestLinkSet_EmptyListNotNil(t *testing.T) {
	assert.NotNil(t, NewLinkSet().List())
}

func TestIdleTracker(t *testing.T) {
	t0 := time.Unix(1000, 0)
	window := 500 * time.Millisecond
	tr := newIdleTracker(2, t0)

	assert.False(t, tr.Idle(t0.Add(100*time.Millisecond), window))
	assert.True(t, tr.Idle(t0.Add(window), window), "nothing started yet")

	tr.Begin("1", t0)
	tr.Begin("2", t0)
	assert.True(t, tr.Idle(t0.Add(window), window), "two requests in flight still count as idle")

	tr.Begin("3", t0.Add(time.Second))
	assert.False(t, tr.Idle(t0.Add(10*time.Second), window), "three in flight is busy")

	tr.End("3", t0.Add(2*time.Second))
	assert.False(t, tr.Idle(t0.Add(2*time.Second+400*time.Millisecond), window))
	assert.True(t, tr.Idle(t0.Add(2*time.Second+window), window))
	assert.Equal(t, 2, tr.Inflight())
}

func TestIdleTracker_RedirectsAndUnknownIDs(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := newIdleTracker(0, t0)

	tr.Begin("a", t0)
	tr.Begin("a", t0) // redirect reuses the request id
	assert.Equal(t, 1, tr.Inflight())

	tr.End("zzz", t0.Add(time.Second))
	assert.False(t, tr.Idle(t0.Add(time.Hour), time.Millisecond))

	tr.End("a", t0.Add(time.Second))
	assert.True(t, tr.Idle(t0.Add(time.Second+time.Millisecond), time.Millisecond))
}

func TestParseDialogPolicy(t *testing.T) {
	d := Dialog{Type: "prompt", DefaultPrompt: "42"}

	p, err := ParseDialogPolicy("")
	require.NoError(t, err)
	accept, text := p.Respond(d)
	assert.True(t, accept)
	assert.Equal(t, "42", text)

	p, err = ParseDialogPolicy(" Dismiss ")
	require.NoError(t, err)
	accept, _ = p.Respond(d)
	assert.False(t, accept)

	_, err = ParseDialogPolicy("ignore")
	assert.Error(t, err)
}

type dialogAnswer struct {
	accept bool
	text   string
}

func newTestSession(policy DialogPolicy) (*session, *[]dialogAnswer) {
	s := newSession("https://site.example/watch", 2, policy, logging.Discard())
	var answers []dialogAnswer
	s.answer = func(accept bool, text string) {
		answers = append(answers, dialogAnswer{accept, text})
	}
	return s, &answers
}

func TestSession_RecordsManifestResponses(t *testing.T) {
	s, _ := newTestSession(AcceptDialogs)

	events := []any{
		&network.EventRequestWillBeSent{RequestID: "1", Request: &network.Request{URL: "https://site.example/watch"}},
		&network.EventResponseReceived{RequestID: "1", Response: &network.Response{URL: "https://site.example/watch"}},
		&network.EventLoadingFinished{RequestID: "1"},
		&network.EventRequestWillBeSent{RequestID: "2", Request: &network.Request{URL: "https://cdn.example/a.m3u8"}},
		&network.EventRequestWillBeSent{
			RequestID:        "2",
			Request:          &network.Request{URL: "https://edge.example/a.m3u8"},
			RedirectResponse: &network.Response{URL: "https://cdn.example/a.m3u8"},
		},
		&network.EventResponseReceived{RequestID: "2", Response: &network.Response{URL: "https://edge.example/a.m3u8"}},
		&network.EventLoadingFinished{RequestID: "2"},
		&network.EventRequestWillBeSent{RequestID: "3", Request: &network.Request{URL: "https://cdn.example/a.m3u8"}},
		&network.EventResponseReceived{RequestID: "3", Response: &network.Response{URL: "https://cdn.example/a.m3u8"}},
		&network.EventLoadingFailed{RequestID: "3"},
		&network.EventRequestWillBeSent{RequestID: "4", Request: &network.Request{URL: "data:image/png;base64,AAAA"}},
	}
	for _, ev := range events {
		s.handleEvent(ev)
	}

	assert.Equal(t, []string{"https://cdn.example/a.m3u8", "https://edge.example/a.m3u8"}, s.links.List())
	assert.Equal(t, 0, s.idle.Inflight(), "inline urls are not tracked")
}

func TestSession_AnswersDialogsPerPolicy(t *testing.T) {
	var seen []Dialog
	policy := PolicyFunc(func(d Dialog) (bool, string) {
		seen = append(seen, d)
		return d.Type != string(page.DialogTypeConfirm), "typed"
	})
	s, answers := newTestSession(policy)

	s.handleEvent(&page.EventJavascriptDialogOpening{Type: page.DialogTypeAlert, Message: "hi"})
	s.handleEvent(&page.EventJavascriptDialogOpening{Type: page.DialogTypeConfirm, Message: "sure?"})

	require.Len(t, seen, 2)
	assert.Equal(t, "hi", seen[0].Message)
	assert.Equal(t, []dialogAnswer{{true, "typed"}, {false, "typed"}}, *answers)
}

func TestSession_WaitIdle(t *testing.T) {
	s, _ := newTestSession(AcceptDialogs)
	s.idle = newIdleTracker(2, time.Now().Add(-time.Second))

	require.NoError(t, s.waitIdle(context.Background(), 100*time.Millisecond))

	for _, id := range []string{"1", "2", "3"} {
		s.idle.Begin(id, time.Now())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := s.waitIdle(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCollector_RejectsInvalidPageWithoutBrowser(t *testing.T) {
	c := New(Options{}, logging.Discard())

	for _, raw := range []string{"", "file:///etc/passwd", "javascript:alert(1)", "example.com/page"} {
		links, err := c.Discover(context.Background(), raw)
		assert.Nil(t, links)

		var derr *Error
		require.ErrorAs(t, err, &derr, raw)
		assert.Equal(t, "validate", derr.Op)
		assert.ErrorIs(t, err, ErrInvalidPage)
	}
}

func TestCollector_QueueHonorsContext(t *testing.T) {
	c := New(Options{MaxConcurrent: 1}, logging.Discard())
	require.NoError(t, c.sem.Acquire(context.Background(), 1))
	defer c.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Discover(ctx, "https://site.example/")

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "queue", derr.Op)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{MaxInflight: -1}, logging.Discard())
	assert.Equal(t, 500*time.Millisecond, c.opts.IdleTime)
	assert.Equal(t, 2, c.opts.MaxInflight)
	assert.Equal(t, int64(2), c.opts.MaxConcurrent)
	assert.NotNil(t, c.opts.Dialogs)
}
