package engine

import (
	"container/list"
	"errors"

	. "matchbook/internal/common"

	"github.com/tidwall/btree"
)

var (
	ErrNilOrder     = errors.New("nil order")
	ErrZeroQuantity = errors.New("order quantity must be positive")
)

// PriceLevel holds the ids of every order resting at one price, oldest first.
type PriceLevel struct {
	priceLevel Price
	orders     *list.List
}

func (level *PriceLevel) head() OrderID {
	return level.orders.Front().Value.(OrderID)
}

// entry is the registry's record of a resting order. The registry owns the
// order; queues only carry its id.
type entry struct {
	order   Order
	seq     uint64        // Arrival sequence into the book
	level   *PriceLevel   // Level the order rests on
	element *list.Element // Position within level.orders
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// OrderBook is a single instrument limit order book. It is not safe for
// concurrent use; see Engine.
type OrderBook struct {
	// Price levels to the orders sat on the price level. Both trees sort best
	// price first, so Min is always top of book.
	bids *PriceLevels
	asks *PriceLevels

	// Every resting order keyed by id.
	orders map[OrderID]*entry

	// Last arrival sequence handed out.
	seq uint64
}

func NewOrderBook() *OrderBook {
	opts := btree.Options{NoLocks: true}
	// Sorted greatest first.
	bids := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.priceLevel > b.priceLevel
	}, opts)
	// Sorted least first.
	asks := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.priceLevel < b.priceLevel
	}, opts)
	return &OrderBook{
		bids:   bids,
		asks:   asks,
		orders: make(map[OrderID]*entry),
	}
}

// AddOrder submits an order and returns the trades it caused. Duplicate ids and
// fill and kill orders that cannot cross are dropped without trades. The book
// keeps its own copy of the order.
func (book *OrderBook) AddOrder(order *Order) ([]Trade, error) {
	placement, err := book.Place(order)
	return placement.Trades, err
}

// Place is AddOrder with the outcome spelled out.
//
// Orders with nothing left to fill are refused with ErrZeroQuantity. The only
// other error is an internal consistency failure while filling. Trades
// completed before the failure are still returned and remain applied.
func (book *OrderBook) Place(order *Order) (Placement, error) {
	if order == nil {
		return Placement{}, ErrNilOrder
	}
	if order.RemainingQuantity() == 0 {
		return Placement{}, ErrZeroQuantity
	}
	if _, ok := book.orders[order.ID()]; ok {
		return Placement{Status: RejectedDuplicate}, nil
	}
	if order.TimeInForce() == FillAndKill && !book.canMatch(order.Side(), order.Price()) {
		return Placement{Status: RejectedNotAdmissible}, nil
	}

	book.insert(*order)
	trades, err := book.match()
	placement := Placement{Trades: trades, Status: book.statusAfterMatch(order, trades)}
	return placement, err
}

// CancelOrder removes a resting order. It reports false, and does nothing,
// when the id is not in the book.
func (book *OrderBook) CancelOrder(id OrderID) bool {
	e, ok := book.orders[id]
	if !ok {
		return false
	}
	book.remove(e)
	return true
}

// ModifyOrder replaces a resting order by cancelling it and submitting the
// request as a new order with the old time in force. Unknown ids are ignored.
// A replacement with nothing to fill is refused with ErrZeroQuantity and the
// resting order is kept.
func (book *OrderBook) ModifyOrder(modify OrderModify) ([]Trade, error) {
	e, ok := book.orders[modify.ID]
	if !ok {
		return nil, nil
	}
	if modify.Quantity == 0 {
		return nil, ErrZeroQuantity
	}
	tif := e.order.TimeInForce()
	book.remove(e)
	return book.AddOrder(modify.Order(tif))
}

// Order returns a copy of a resting order.
func (book *OrderBook) Order(id OrderID) (Order, bool) {
	e, ok := book.orders[id]
	if !ok {
		return Order{}, false
	}
	return e.order, true
}

// Len is the number of resting orders.
func (book *OrderBook) Len() int {
	return len(book.orders)
}

func (book *OrderBook) BestBid() (Price, bool) {
	return bestPrice(book.bids)
}

func (book *OrderBook) BestAsk() (Price, bool) {
	return bestPrice(book.asks)
}

func bestPrice(levels *PriceLevels) (Price, bool) {
	level, ok := levels.Min()
	if !ok {
		return 0, false
	}
	return level.priceLevel, true
}

// Levels aggregates the remaining quantity per price on both sides.
func (book *OrderBook) Levels() BookLevels {
	return BookLevels{
		Bids: book.aggregate(book.bids),
		Asks: book.aggregate(book.asks),
	}
}

func (book *OrderBook) aggregate(levels *PriceLevels) []LevelInfo {
	infos := make([]LevelInfo, 0, levels.Len())
	levels.Scan(func(level *PriceLevel) bool {
		var total uint64
		for el := level.orders.Front(); el != nil; el = el.Next() {
			total += uint64(book.orders[el.Value.(OrderID)].order.RemainingQuantity())
		}
		infos = append(infos, LevelInfo{Price: level.priceLevel, Quantity: total})
		return true
	})
	return infos
}

// FlattenLevels copies every level of one side, best price first, with the
// orders of each level in time priority.
func (book *OrderBook) FlattenLevels(side Side) []FlatPriceLevel {
	levels := book.levels(side)
	flat := make([]FlatPriceLevel, 0, levels.Len())
	levels.Scan(func(level *PriceLevel) bool {
		orders := make([]Order, 0, level.orders.Len())
		for el := level.orders.Front(); el != nil; el = el.Next() {
			orders = append(orders, book.orders[el.Value.(OrderID)].order)
		}
		flat = append(flat, FlatPriceLevel{PriceLevel: level.priceLevel, Orders: orders})
		return true
	})
	return flat
}

func (book *OrderBook) levels(side Side) *PriceLevels {
	if side == Buy {
		return book.bids
	}
	return book.asks
}

// canMatch reports whether an order on side at price would cross the opposite
// top of book right now.
func (book *OrderBook) canMatch(side Side, price Price) bool {
	best, ok := bestPrice(book.levels(side.Opposite()))
	if !ok {
		return false
	}
	if side == Buy {
		return price >= best
	}
	return price <= best
}

// insert appends the order to the back of its price level, creating the level
// if needed, and registers it.
func (book *OrderBook) insert(order Order) {
	levels := book.levels(order.Side())

	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.Price()})
	if !ok {
		level = &PriceLevel{priceLevel: order.Price(), orders: list.New()}
		levels.Set(level)
	}

	book.seq++
	e := &entry{order: order, seq: book.seq, level: level}
	e.element = level.orders.PushBack(order.ID())
	book.orders[order.ID()] = e
}

// remove unlinks an order from its level and the registry, dropping the level
// once it is empty.
func (book *OrderBook) remove(e *entry) {
	e.level.orders.Remove(e.element)
	delete(book.orders, e.order.ID())
	if e.level.orders.Len() == 0 {
		book.levels(e.order.Side()).Delete(e.level)
	}
}

// match consumes the top of book price levels while they cross (i.e. bid >= ask),
// pairing orders in price-time priority. Each pair executes at the price of
// whichever order arrived first, which is always the resting one.
//
// Once nothing crosses, a fill and kill order left at the top of either side
// is cancelled.
func (book *OrderBook) match() ([]Trade, error) {
	var trades []Trade
	for {
		bestBid, bidOk := book.bids.MinMut()
		bestAsk, askOk := book.asks.MinMut()

		// If either side is empty, or prices don't cross, we are done.
		if !bidOk || !askOk || bestBid.priceLevel < bestAsk.priceLevel {
			break
		}

		// Levels are deleted by remove as soon as they empty, which ends this
		// loop and exposes the next level on the re-loop.
		for bestBid.orders.Len() > 0 && bestAsk.orders.Len() > 0 {
			bid := book.orders[bestBid.head()]
			ask := book.orders[bestAsk.head()]

			quantity := min(bid.order.RemainingQuantity(), ask.order.RemainingQuantity())
			if err := bid.order.Fill(quantity); err != nil {
				return trades, err
			}
			if err := ask.order.Fill(quantity); err != nil {
				return trades, err
			}

			price := bid.order.Price()
			if ask.seq < bid.seq {
				price = ask.order.Price()
			}
			trades = append(trades, Trade{
				Bid: TradeInfo{OrderID: bid.order.ID(), Price: price, Quantity: quantity},
				Ask: TradeInfo{OrderID: ask.order.ID(), Price: price, Quantity: quantity},
			})

			if bid.order.IsFilled() {
				book.remove(bid)
			}
			if ask.order.IsFilled() {
				book.remove(ask)
			}
		}
	}

	book.killHead(book.bids)
	book.killHead(book.asks)
	return trades, nil
}

// killHead cancels the first order of the best level if it is fill and kill.
func (book *OrderBook) killHead(levels *PriceLevels) {
	level, ok := levels.Min()
	if !ok {
		return
	}
	if e := book.orders[level.head()]; e.order.TimeInForce() == FillAndKill {
		book.remove(e)
	}
}

func (book *OrderBook) statusAfterMatch(order *Order, trades []Trade) Status {
	if _, ok := book.orders[order.ID()]; ok {
		return Resting
	}

	var filled Quantity
	for _, trade := range trades {
		switch order.ID() {
		case trade.Bid.OrderID:
			filled += trade.Bid.Quantity
		case trade.Ask.OrderID:
			filled += trade.Ask.Quantity
		}
	}
	if filled == order.RemainingQuantity() {
		return Filled
	}
	return Killed
}
