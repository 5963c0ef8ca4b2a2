package engine

import (
	"context"
	"errors"

	. "matchbook/internal/common"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// This is the main matching engine. It owns one OrderBook and applies every
// request to it from a single goroutine, so callers on any goroutine see
// requests applied one at a time and snapshots taken between them.

var ErrEngineStopped = errors.New("engine stopped")

const defaultInboxSize = 1024

type request func(book *OrderBook)

type Engine struct {
	t        *tomb.Tomb
	book     *OrderBook
	requests chan request
}

// New starts the engine. It runs until ctx is done or Stop is called.
func New(ctx context.Context, inboxSize int) *Engine {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	t, _ := tomb.WithContext(ctx)
	engine := &Engine{
		t:        t,
		book:     NewOrderBook(),
		requests: make(chan request, inboxSize),
	}
	t.Go(engine.run)
	return engine
}

// Stop kills the dispatcher and waits for it to exit. Requests still queued
// and not yet served are dropped and their callers get ErrEngineStopped.
func (engine *Engine) Stop() error {
	engine.t.Kill(nil)
	if err := engine.t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Dead is closed once the dispatcher has exited.
func (engine *Engine) Dead() <-chan struct{} {
	return engine.t.Dead()
}

func (engine *Engine) run() error {
	log.Info().Msg("engine running")
	defer log.Info().Msg("engine stopped")
	for {
		select {
		case <-engine.t.Dying():
			return nil
		case req := <-engine.requests:
			req(engine.book)
		}
	}
}

// do hands fn to the dispatcher and waits for it to run. ctx only bounds the
// wait for a slot in the inbox: once queued, fn either runs and do returns nil,
// or the dispatcher exits first and do returns ErrEngineStopped.
func (engine *Engine) do(ctx context.Context, fn func(book *OrderBook)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	req := func(book *OrderBook) {
		fn(book)
		close(done)
	}

	select {
	case engine.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-engine.t.Dying():
		return ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-engine.t.Dead():
		// fn may have been the last request served.
		select {
		case <-done:
			return nil
		default:
			return ErrEngineStopped
		}
	}
}

// Place submits an order. See OrderBook.Place.
func (engine *Engine) Place(ctx context.Context, order *Order) (Placement, error) {
	var placement Placement
	var placeErr error
	err := engine.do(ctx, func(book *OrderBook) {
		placement, placeErr = book.Place(order)
		logPlacement(order, placement, placeErr)
	})
	if err != nil {
		return Placement{}, err
	}
	return placement, placeErr
}

// AddOrder submits an order and returns the trades it caused.
func (engine *Engine) AddOrder(ctx context.Context, order *Order) ([]Trade, error) {
	placement, err := engine.Place(ctx, order)
	return placement.Trades, err
}

// CancelOrder reports whether the id was resting and has been removed.
func (engine *Engine) CancelOrder(ctx context.Context, id OrderID) (bool, error) {
	var cancelled bool
	err := engine.do(ctx, func(book *OrderBook) {
		cancelled = book.CancelOrder(id)
		log.Debug().Uint64("id", uint64(id)).Bool("cancelled", cancelled).Msg("cancel")
	})
	return cancelled, err
}

// ModifyOrder replaces a resting order; see OrderBook.ModifyOrder. The
// boolean is false when the id was not resting.
func (engine *Engine) ModifyOrder(ctx context.Context, modify OrderModify) ([]Trade, bool, error) {
	var (
		trades    []Trade
		found     bool
		modifyErr error
	)
	err := engine.do(ctx, func(book *OrderBook) {
		_, found = book.Order(modify.ID)
		trades, modifyErr = book.ModifyOrder(modify)
		if modifyErr != nil {
			event := log.Warn()
			if errors.Is(modifyErr, ErrInvalidFill) {
				event = log.Error()
			}
			event.Err(modifyErr).Uint64("id", uint64(modify.ID)).Msg("modify aborted")
		}
	})
	if err != nil {
		return nil, false, err
	}
	return trades, found, modifyErr
}

// Levels returns a snapshot of the ladder taken between two requests.
func (engine *Engine) Levels(ctx context.Context) (BookLevels, error) {
	var levels BookLevels
	err := engine.do(ctx, func(book *OrderBook) {
		levels = book.Levels()
	})
	return levels, err
}

// Order looks up a resting order by id.
func (engine *Engine) Order(ctx context.Context, id OrderID) (Order, bool, error) {
	var (
		order Order
		found bool
	)
	err := engine.do(ctx, func(book *OrderBook) {
		order, found = book.Order(id)
	})
	return order, found, err
}

func logPlacement(order *Order, placement Placement, err error) {
	if order == nil {
		return
	}
	if err != nil {
		event := log.Warn()
		if errors.Is(err, ErrInvalidFill) {
			event = log.Error()
		}
		event.
			Err(err).
			Uint64("id", uint64(order.ID())).
			Int("trades", len(placement.Trades)).
			Msg("placement aborted")
		return
	}
	log.Debug().
		Uint64("id", uint64(order.ID())).
		Str("side", order.Side().String()).
		Str("tif", order.TimeInForce().String()).
		Int32("price", int32(order.Price())).
		Uint32("qty", uint32(order.RemainingQuantity())).
		Str("status", placement.Status.String()).
		Int("trades", len(placement.Trades)).
		Msg("order placed")
}
