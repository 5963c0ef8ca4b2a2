package common

type (
	OrderID  uint64
	Price    int32  // Smallest currency unit (ticks).
	Quantity uint32 // Number of units.
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "UNKNOWN"
}

// Opposite returns the side an order on s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type TimeInForce int

const (
	// Good till cancel orders rest on the book until they are filled or
	// explicitly cancelled.
	GoodTillCancel TimeInForce = iota
	// Fill and kill orders execute immediately against resting liquidity.
	// Whatever is left unmatched is discarded rather than left resting.
	FillAndKill
)

func (tif TimeInForce) String() string {
	switch tif {
	case GoodTillCancel:
		return "GTC"
	case FillAndKill:
		return "FAK"
	}
	return "UNKNOWN"
}
