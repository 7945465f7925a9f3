package domain

import "encoding/json"

// Side is the direction of an order on the base asset.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects immediate or resting execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderRequest is what the executor hands to a venue.
type OrderRequest struct {
	Base   string
	Quote  string
	Side   Side
	Type   OrderType
	Volume float64
	Price  float64 // required for LIMIT; informational for MARKET
}

// OrderResult is a venue's acknowledgement of a submitted order.
type OrderResult struct {
	OrderID     string          `json:"order_id"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

// OrderStatus holds realized fill facts for one order. Fee is expressed in
// quote units.
type OrderStatus struct {
	OrderID       string  `json:"order_id"`
	Fee           float64 `json:"fee"`
	ExecutedBase  float64 `json:"executed_base"`
	ExecutedQuote float64 `json:"executed_quote"`
	VWAP          float64 `json:"vwap"`
}
