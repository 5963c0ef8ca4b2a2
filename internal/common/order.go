package common

import (
	"errors"
	"fmt"
)

var ErrInvalidFill = errors.New("fill exceeds remaining quantity")

// Order is a single limit order. Only the matching engine mutates it, and only
// through Fill.
type Order struct {
	id          OrderID     // Unique order identity
	side        Side        // Order side
	price       Price       // Limiting price
	timeInForce TimeInForce // Lifetime behaviour
	initial     Quantity    // Total volume requested
	remaining   Quantity    // Volume not yet filled
}

func NewOrder(tif TimeInForce, id OrderID, side Side, price Price, quantity Quantity) *Order {
	return &Order{
		id:          id,
		side:        side,
		price:       price,
		timeInForce: tif,
		initial:     quantity,
		remaining:   quantity,
	}
}

func (o *Order) ID() OrderID                 { return o.id }
func (o *Order) Side() Side                  { return o.side }
func (o *Order) Price() Price                { return o.price }
func (o *Order) TimeInForce() TimeInForce    { return o.timeInForce }
func (o *Order) InitialQuantity() Quantity   { return o.initial }
func (o *Order) RemainingQuantity() Quantity { return o.remaining }
func (o *Order) FilledQuantity() Quantity    { return o.initial - o.remaining }
func (o *Order) IsFilled() bool              { return o.remaining == 0 }

// Fill takes quantity off the remaining volume. Asking for more than what
// remains means the caller computed a bad match quantity; the order is left
// untouched and ErrInvalidFill is returned.
func (o *Order) Fill(quantity Quantity) error {
	if quantity > o.remaining {
		return fmt.Errorf("order %d: fill %d, remaining %d: %w",
			o.id, quantity, o.remaining, ErrInvalidFill)
	}
	o.remaining -= quantity
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf(
		`ID:          %d
Side:        %v
TimeInForce: %v
Price:       %d
Quantity:    %d (Total: %d)`,
		o.id,
		o.side,
		o.timeInForce,
		o.price,
		o.remaining,
		o.initial,
	)
}
