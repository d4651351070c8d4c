package entities

// StockLevel tracks one SKU. Available counts sellable units; Reserved
// counts units held by open orders.
type StockLevel struct {
	SKU       string
	Available int
	Reserved  int
}

// Reservation is a hold of stock for one order. Reservations are keyed by
// order id so redelivered reserve commands land on the same hold.
type Reservation struct {
	OrderID string
	Items   map[string]int
	Granted bool
	Reason  string
}
