package common

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrPriceOffTick     = errors.New("price is not a whole number of ticks")
	ErrPriceOutOfBounds = errors.New("price out of bounds")
)

// ParsePrice converts a human decimal such as "101.25" into ticks, where one
// tick is 10^-scale of a currency unit.
func ParsePrice(s string, scale int32) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}

	ticks := d.Shift(scale)
	if !ticks.IsInteger() {
		return 0, fmt.Errorf("%s at scale %d: %w", s, scale, ErrPriceOffTick)
	}
	if ticks.GreaterThan(decimal.NewFromInt(math.MaxInt32)) ||
		ticks.LessThan(decimal.NewFromInt(math.MinInt32)) {
		return 0, fmt.Errorf("%s: %w", s, ErrPriceOutOfBounds)
	}
	return Price(ticks.IntPart()), nil
}

// FormatPrice is the inverse of ParsePrice.
func FormatPrice(p Price, scale int32) string {
	return decimal.New(int64(p), -scale).StringFixed(scale)
}
