// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	const key ctxKey = "tab"

	t.Run("keeps tab values", func(t *testing.T) {
		tab := context.WithValue(context.Background(), key, "target-1")
		combined, cancel := CombineContext(tab, context.Background())
		defer cancel()
		assert.Equal(t, "target-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	cases := map[string]func() (tab, op context.Context, cancel func()){
		"tab canceled": func() (context.Context, context.Context, func()) {
			tab, c := context.WithCancel(context.Background())
			return tab, context.Background(), c
		},
		"op canceled": func() (context.Context, context.Context, func()) {
			op, c := context.WithCancel(context.Background())
			return context.Background(), op, c
		},
		"op deadline": func() (context.Context, context.Context, func()) {
			op, c := context.WithTimeout(context.Background(), 20*time.Millisecond)
			return context.Background(), op, func() { <-op.Done(); c() }
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			tab, op, trigger := setup()
			combined, cancel := CombineContext(tab, op)
			defer cancel()

			trigger()
			assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
			assert.ErrorIs(t, combined.Err(), context.Canceled)
		})
	}

	t.Run("tab deadline is inherited", func(t *testing.T) {
		deadline := time.Now().Add(time.Hour)
		tab, c := context.WithDeadline(context.Background(), deadline)
		defer c()
		combined, cancel := CombineContext(tab, context.Background())
		defer cancel()
		got, ok := combined.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, deadline, got, time.Millisecond)
	})
}

func TestDetach(t *testing.T) {
	const key ctxKey = "tab"
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), key, "target-1"), 10*time.Millisecond)
	detached := Detach(parent)
	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)
	assert.Equal(t, "target-1", detached.Value(key))

	derived, stop := context.WithTimeout(detached, 10*time.Millisecond)
	defer stop()
	<-derived.Done()
	assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
}
