package common

import "fmt"

// TradeInfo is one order's side of an execution.
type TradeInfo struct {
	OrderID  OrderID
	Price    Price
	Quantity Quantity
}

// Trade accounts for the two parties who matched. Both legs carry the
// resting order's price.
type Trade struct {
	Bid TradeInfo
	Ask TradeInfo
}

func (t Trade) Price() Price       { return t.Bid.Price }
func (t Trade) Quantity() Quantity { return t.Bid.Quantity }

func (t Trade) String() string {
	return fmt.Sprintf(
		"Bid: %d, Ask: %d, Price: %d, MatchQty: %d",
		t.Bid.OrderID,
		t.Ask.OrderID,
		t.Price(),
		t.Quantity(),
	)
}
