// internal/browser/session/network.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

// idleTracker counts in-flight requests of one tab so the session can answer
// "has the network been quiet for a while".
type idleTracker struct {
	logger *zap.Logger
	quiet  time.Duration

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newIdleTracker(logger *zap.Logger, quiet time.Duration) *idleTracker {
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	return &idleTracker{
		logger:       logger,
		quiet:        quiet,
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// handle consumes one CDP event. It is called from the chromedp listener
// goroutine and must not block.
func (t *idleTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *idleTracker) started(id network.RequestID) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

func (t *idleTracker) finished(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// reset forgets requests of a document that has been replaced.
func (t *idleTracker) reset() {
	t.mu.Lock()
	t.inflight = make(map[network.RequestID]struct{})
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// idle reports whether nothing has been in flight for the quiet period.
func (t *idleTracker) idle(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && now.Sub(t.lastActivity) >= t.quiet
}

// wait polls until the network is idle or ctx is done.
func (t *idleTracker) wait(ctx context.Context) error {
	ticker := time.NewTicker(t.quiet / 2)
	defer ticker.Stop()
	for {
		if t.idle(time.Now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			t.mu.Lock()
			n := len(t.inflight)
			t.mu.Unlock()
			t.logger.Debug("Network did not go idle.", zap.Int("inflight_requests", n))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
