package engine

import (
	"context"
	"testing"
	"time"

	. "matchbook/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockDispatcher occupies the dispatcher until the returned func is called.
func blockDispatcher(t *testing.T, engine *Engine) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	go func() {
		_ = engine.do(context.Background(), func(*OrderBook) {
			close(started)
			<-gate
		})
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("dispatcher never picked up the blocking request")
	}
	return func() { close(gate) }
}

type placeResult struct {
	placement Placement
	err       error
}

func TestEngine_QueuedRequestOutlivesCallerContext(t *testing.T) {
	engine := New(context.Background(), 4)
	t.Cleanup(func() { _ = engine.Stop() })
	release := blockDispatcher(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan placeResult, 1)
	go func() {
		placement, err := engine.Place(ctx, NewOrder(GoodTillCancel, 1, Buy, 100, 5))
		result <- placeResult{placement, err}
	}()
	require.Eventually(t, func() bool { return len(engine.requests) == 1 }, time.Second, time.Millisecond)

	// Cancelling after the request is queued must not hide its outcome.
	cancel()
	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case res := <-result:
		require.NoError(t, res.err)
		assert.Equal(t, Resting, res.placement.Status)
	case <-time.After(time.Second):
		t.Fatal("placement never returned")
	}
	_, found, err := engine.Order(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestEngine_QueuedRequestDroppedOnStop(t *testing.T) {
	engine := New(context.Background(), 4)
	release := blockDispatcher(t, engine)

	result := make(chan placeResult, 1)
	go func() {
		placement, err := engine.Place(context.Background(), NewOrder(GoodTillCancel, 1, Buy, 100, 5))
		result <- placeResult{placement, err}
	}()
	require.Eventually(t, func() bool { return len(engine.requests) == 1 }, time.Second, time.Millisecond)

	engine.t.Kill(nil)
	release()
	require.NoError(t, engine.Stop())

	select {
	case res := <-result:
		// The dispatcher may serve the request before noticing it is dying;
		// either way the answer matches the book.
		_, found := engine.book.Order(1)
		if res.err != nil {
			assert.ErrorIs(t, res.err, ErrEngineStopped)
			assert.False(t, found)
		} else {
			assert.Equal(t, Resting, res.placement.Status)
			assert.True(t, found)
		}
	case <-time.After(time.Second):
		t.Fatal("placement never returned")
	}
}
