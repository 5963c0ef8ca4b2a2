package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "matchbook/internal/common"
	"matchbook/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng := engine.New(context.Background(), 16)
	t.Cleanup(func() { _ = eng.Stop() })
	return eng
}

func TestEngine_PlaceAndQuery(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	placement, err := eng.Place(ctx, NewOrder(GoodTillCancel, 1, Sell, 100, 10))
	require.NoError(t, err)
	assert.Equal(t, engine.Resting, placement.Status)

	trades, err := eng.AddOrder(ctx, NewOrder(GoodTillCancel, 2, Buy, 101, 4))
	require.NoError(t, err)
	assert.Equal(t, []Trade{trade(2, 1, 100, 4)}, trades)

	order, found, err := eng.Order(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Quantity(6), order.RemainingQuantity())

	levels, err := eng.Levels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []LevelInfo{{Price: 100, Quantity: 6}}, levels.Asks)
	assert.Empty(t, levels.Bids)
}

func TestEngine_CancelAndModify(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	_, err := eng.Place(ctx, NewOrder(GoodTillCancel, 1, Buy, 99, 5))
	require.NoError(t, err)
	_, err = eng.Place(ctx, NewOrder(GoodTillCancel, 2, Sell, 101, 5))
	require.NoError(t, err)

	trades, found, err := eng.ModifyOrder(ctx, OrderModify{ID: 1, Side: Buy, Price: 101, Quantity: 3})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []Trade{trade(1, 2, 101, 3)}, trades)

	trades, found, err = eng.ModifyOrder(ctx, OrderModify{ID: 7, Side: Buy, Price: 101, Quantity: 3})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, trades)

	_, found, err = eng.ModifyOrder(ctx, OrderModify{ID: 2, Side: Sell, Price: 100, Quantity: 0})
	assert.ErrorIs(t, err, engine.ErrZeroQuantity)
	assert.True(t, found)
	order, found, err := eng.Order(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Price(101), order.Price())

	cancelled, err := eng.CancelOrder(ctx, 2)
	require.NoError(t, err)
	assert.True(t, cancelled)
	cancelled, err = eng.CancelOrder(ctx, 2)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestEngine_ConcurrentCallersAreSerialised(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	const perSide = 50
	var wg sync.WaitGroup
	for i := 0; i < perSide; i++ {
		wg.Add(2)
		go func(id OrderID) {
			defer wg.Done()
			_, err := eng.Place(ctx, NewOrder(GoodTillCancel, id, Buy, 100, 1))
			assert.NoError(t, err)
		}(OrderID(2*i + 1))
		go func(id OrderID) {
			defer wg.Done()
			_, err := eng.Place(ctx, NewOrder(GoodTillCancel, id, Sell, 100, 1))
			assert.NoError(t, err)
		}(OrderID(2*i + 2))
	}
	wg.Wait()

	// Every buy meets exactly one sell at the same price.
	levels, err := eng.Levels(ctx)
	require.NoError(t, err)
	assert.Empty(t, levels.Bids)
	assert.Empty(t, levels.Asks)
}

func TestEngine_StoppedRejectsRequests(t *testing.T) {
	eng := engine.New(context.Background(), 1)
	require.NoError(t, eng.Stop())

	select {
	case <-eng.Dead():
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}

	_, err := eng.Place(context.Background(), NewOrder(GoodTillCancel, 1, Buy, 100, 1))
	assert.ErrorIs(t, err, engine.ErrEngineStopped)
	_, err = eng.Levels(context.Background())
	assert.ErrorIs(t, err, engine.ErrEngineStopped)
}

func TestEngine_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, 1)
	cancel()

	select {
	case <-eng.Dead():
	case <-time.After(time.Second):
		t.Fatal("engine did not stop with its context")
	}
	assert.NoError(t, eng.Stop())
}

func TestEngine_CallerContextCancelled(t *testing.T) {
	eng := startTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.CancelOrder(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
