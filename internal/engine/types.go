package engine

import (
	. "matchbook/internal/common"
)

type Status int

const (
	// The order id is already live in the book. Nothing changed.
	RejectedDuplicate Status = iota
	// A fill and kill order that could not cross the opposite side on
	// arrival. Nothing changed.
	RejectedNotAdmissible
	// Accepted, and some or all of the order is resting in the book.
	Resting
	// Accepted and fully filled.
	Filled
	// Accepted fill and kill order whose unmatched remainder was discarded.
	Killed
)

func (s Status) String() string {
	switch s {
	case RejectedDuplicate:
		return "REJECTED_DUPLICATE"
	case RejectedNotAdmissible:
		return "REJECTED_NOT_ADMISSIBLE"
	case Resting:
		return "RESTING"
	case Filled:
		return "FILLED"
	case Killed:
		return "KILLED"
	}
	return "UNKNOWN"
}

// Rejected reports whether the order was turned away before touching the book.
func (s Status) Rejected() bool {
	return s == RejectedDuplicate || s == RejectedNotAdmissible
}

// Placement is the outcome of submitting one order.
type Placement struct {
	Trades []Trade
	Status Status
}

// FlatPriceLevel is a copy of one price level's queue, oldest order first.
type FlatPriceLevel struct {
	PriceLevel Price
	Orders     []Order
}
