// internal/browser/session/network_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestIdleTracker(t *testing.T) {
	tr := newIdleTracker(zaptest.NewLogger(t), 20*time.Millisecond)
	now := time.Now()
	assert.False(t, tr.idle(now), "activity is assumed at creation")
	assert.True(t, tr.idle(now.Add(25*time.Millisecond)))

	tr.handle(&network.EventRequestWillBeSent{RequestID: "r1"})
	tr.handle(&network.EventRequestWillBeSent{RequestID: "r2"})
	assert.False(t, tr.idle(time.Now().Add(time.Hour)), "requests in flight")

	tr.handle(&network.EventLoadingFinished{RequestID: "r1"})
	tr.handle(&network.EventLoadingFailed{RequestID: "r2"})
	assert.True(t, tr.idle(time.Now().Add(time.Hour)))

	tr.handle(&network.EventRequestWillBeSent{RequestID: "r3"})
	tr.reset()
	assert.True(t, tr.idle(time.Now().Add(time.Hour)), "reset drops requests of the old document")
}

func TestIdleTracker_Wait(t *testing.T) {
	tr := newIdleTracker(zaptest.NewLogger(t), 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tr.wait(ctx))

	tr.handle(&network.EventRequestWillBeSent{RequestID: "stuck"})
	short, stop := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, tr.wait(short), context.DeadlineExceeded)
}
