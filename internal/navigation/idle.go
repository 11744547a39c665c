package navigation

import (
	"context"
	"strings"
	"sync"
	"time"
)

// idleTracker counts in-flight network requests and reports when the page
// has been quiet (at most maxInflight requests) for a full window.
type idleTracker struct {
	maxInflight int
	window      time.Duration
	now         func() time.Time

	mu         sync.Mutex
	inflight   map[string]struct{}
	quietSince time.Time
	quiet      bool
	changed    chan struct{}
}

func newIdleTracker(maxInflight int, window time.Duration) *idleTracker {
	t := &idleTracker{
		maxInflight: maxInflight,
		window:      window,
		now:         time.Now,
		inflight:    make(map[string]struct{}),
		changed:     make(chan struct{}, 1),
	}
	t.quiet = true
	t.quietSince = t.now()
	return t
}

// started records a request. Redirect hops reuse their request ID and are
// counted once. data: and blob: URLs never reach the network and are ignored.
func (t *idleTracker) started(id, url string) {
	if strings.HasPrefix(url, "data:") || strings.HasPrefix(url, "blob:") {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; ok {
		return
	}
	t.inflight[id] = struct{}{}
	t.update()
}

// finished records a completed or failed request.
func (t *idleTracker) finished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.update()
}

// reset restarts the quiet window, keeping the in-flight set.
func (t *idleTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quietSince = t.now()
	t.signal()
}

// update must be called with t.mu held.
func (t *idleTracker) update() {
	quiet := len(t.inflight) <= t.maxInflight
	if quiet && !t.quiet {
		t.quietSince = t.now()
	}
	t.quiet = quiet
	t.signal()
}

func (t *idleTracker) signal() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// inflightCount returns the number of requests currently in flight.
func (t *idleTracker) inflightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// remaining returns how much longer the page must stay quiet, and whether
// it is quiet at all.
func (t *idleTracker) remaining() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.quiet {
		return 0, false
	}
	return t.window - t.now().Sub(t.quietSince), true
}

// wait blocks until the page has been quiet for the window or ctx ends.
func (t *idleTracker) wait(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		left, quiet := t.remaining()
		if quiet && left <= 0 {
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if quiet {
			timer.Reset(left)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.changed:
		case <-timer.C:
		}
	}
}
