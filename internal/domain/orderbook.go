package domain

import "time"

// Order is one price level of a book. Volume may be partially consumed by the
// matching and planning code, which always works on a cloned book.
type Order struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Orderbook is a venue's book for one pair. Bids are sorted by price
// descending, asks by price ascending.
type Orderbook struct {
	Venue     string    `json:"venue"`
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	Timestamp time.Time `json:"timestamp"`
	Bids      []Order   `json:"bids"`
	Asks      []Order   `json:"asks"`
}

// Clone returns a deep copy whose level slices share no memory with b.
func (b Orderbook) Clone() Orderbook {
	out := b
	out.Bids = append([]Order(nil), b.Bids...)
	out.Asks = append([]Order(nil), b.Asks...)
	return out
}

// TwoSided reports whether the book has at least one bid and one ask.
func (b Orderbook) TwoSided() bool {
	return len(b.Bids) > 0 && len(b.Asks) > 0
}
