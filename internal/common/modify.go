package common

// OrderModify replaces the order with the same ID. The book applies it as a
// cancel followed by a fresh submission, so the replacement loses its time
// priority.
type OrderModify struct {
	ID       OrderID
	Side     Side
	Price    Price
	Quantity Quantity
}

// Order builds a brand new order from the request.
func (m OrderModify) Order(tif TimeInForce) *Order {
	return NewOrder(tif, m.ID, m.Side, m.Price, m.Quantity)
}
