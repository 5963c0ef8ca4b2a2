package common

import (
	"fmt"
	"strings"
)

// LevelInfo is the aggregated resting volume at one price.
type LevelInfo struct {
	Price    Price
	Quantity uint64
}

// BookLevels is a point in time view of the price ladder. Bids are sorted
// best (highest) first, asks best (lowest) first.
type BookLevels struct {
	Bids []LevelInfo
	Asks []LevelInfo
}

// String renders the ladder with asks on top, worst ask first, so the spread
// sits in the middle.
func (l BookLevels) String() string {
	var sb strings.Builder
	for i := len(l.Asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "ASK %10d %10d\n", l.Asks[i].Price, l.Asks[i].Quantity)
	}
	sb.WriteString("-----------------------------\n")
	for _, level := range l.Bids {
		fmt.Fprintf(&sb, "BID %10d %10d\n", level.Price, level.Quantity)
	}
	return sb.String()
}
