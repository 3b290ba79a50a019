package discovery

import (
	"sync"
	"time"
)

// idleTracker implements "networkidle2": the network counts as idle once no
// more than maxInflight requests have been outstanding for a full window.
type idleTracker struct {
	mu          sync.Mutex
	maxInflight int
	inflight    map[string]struct{}
	quietSince  time.Time
	busy        bool
}

func newIdleTracker(maxInflight int, now time.Time) *idleTracker {
	if maxInflight < 0 {
		maxInflight = 0
	}
	return &idleTracker{
		maxInflight: maxInflight,
		inflight:    make(map[string]struct{}),
		quietSince:  now,
	}
}

// Begin marks a request as started. Repeated ids (redirects) count once.
func (t *idleTracker) Begin(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	if len(t.inflight) > t.maxInflight {
		t.busy = true
	}
}

// End marks a request as finished or failed. Unknown ids are ignored.
func (t *idleTracker) End(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	if t.busy && len(t.inflight) <= t.maxInflight {
		t.busy = false
		t.quietSince = now
	}
}

// Idle reports whether the quiet period has lasted at least window.
func (t *idleTracker) Idle(now time.Time, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.busy && now.Sub(t.quietSince) >= window
}

// Inflight returns the number of outstanding requests.
func (t *idleTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
