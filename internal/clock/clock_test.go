package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleep(t *testing.T) {
	t.Run("returns immediately for non-positive durations", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, Sleep(context.Background(), New(), 0))
		require.NoError(t, Sleep(context.Background(), New(), -time.Second))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("waits for the duration on the real clock", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, Sleep(context.Background(), nil, 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("stops early when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := Sleep(ctx, New(), time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("reports an already cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Sleep(ctx, New(), 0), context.Canceled)
	})
}

func TestRealAfterFunc(t *testing.T) {
	var fired atomic.Bool
	timer := New().AfterFunc(time.Hour, func() { fired.Store(true) })
	assert.True(t, timer.Stop())
	assert.False(t, fired.Load())

	done := make(chan struct{})
	New().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestOrReal(t *testing.T) {
	assert.Equal(t, Real{}, OrReal(nil))
	var c Clock = Real{}
	assert.Equal(t, c, OrReal(c))
}
