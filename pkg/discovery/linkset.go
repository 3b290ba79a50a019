package discovery

import (
	"sync"

	"hls-scrape-proxy/pkg/urlutil"
)

// LinkSet collects manifest URLs in first-seen order without duplicates.
// It is safe for concurrent use; browser events arrive on their own goroutine.
type LinkSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewLinkSet returns an empty set.
func NewLinkSet() *LinkSet {
	return &LinkSet{seen: make(map[string]struct{})}
}

// Add records rawURL when its path ends with .m3u8 and reports whether it
// was new.
func (s *LinkSet) Add(rawURL string) bool {
	if !urlutil.IsManifestURL(rawURL) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[rawURL]; ok {
		return false
	}
	s.seen[rawURL] = struct{}{}
	s.order = append(s.order, rawURL)
	return true
}

// Len returns the number of distinct manifests recorded.
func (s *LinkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// List returns a copy of the recorded URLs. It is never nil.
func (s *LinkSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
