package domain

import "time"

// TradeAnalysis is one priced, sized leg of a candidate trade. Offers lists the
// book levels consumed to build Volume and VWAP, in consumption order.
type TradeAnalysis struct {
	Base               string    `json:"base"`
	Quote              string    `json:"quote"`
	Venue              string    `json:"venue"`
	Side               Side      `json:"side"`
	Volume             float64   `json:"volume"`
	VWAP               float64   `json:"vwap"`
	OrderbookTimestamp time.Time `json:"orderbook_timestamp"`
	Offers             []Order   `json:"offers"`
}

// Notional is Volume priced at VWAP.
func (t TradeAnalysis) Notional() float64 {
	return t.Volume * t.VWAP
}

// LastOffer returns the most recently consumed level.
func (t TradeAnalysis) LastOffer() (Order, bool) {
	if len(t.Offers) == 0 {
		return Order{}, false
	}
	return t.Offers[len(t.Offers)-1], true
}

// Clone deep-copies the offers slice.
func (t TradeAnalysis) Clone() TradeAnalysis {
	out := t
	out.Offers = append([]Order(nil), t.Offers...)
	return out
}

// ArbitrageAnalysis is a two-leg candidate. A zero Buy.Volume means there is
// no opportunity.
type ArbitrageAnalysis struct {
	Buy         TradeAnalysis `json:"buy"`
	Sell        TradeAnalysis `json:"sell"`
	IdealProfit float64       `json:"ideal_profit"`
}

// Empty reports whether the candidate carries no tradable volume.
func (a ArbitrageAnalysis) Empty() bool {
	return a.Buy.Volume <= 0 || a.Sell.Volume <= 0
}

// Clone deep-copies both legs.
func (a ArbitrageAnalysis) Clone() ArbitrageAnalysis {
	return ArbitrageAnalysis{Buy: a.Buy.Clone(), Sell: a.Sell.Clone(), IdealProfit: a.IdealProfit}
}

// TradeExecution pairs the expectation for one leg with what the venue
// reported after execution.
type TradeExecution struct {
	Venue         string      `json:"venue"`
	ExpectedVWAP  float64     `json:"expected_vwap"`
	ExpectedBase  float64     `json:"expected_base"`
	ExpectedQuote float64     `json:"expected_quote"`
	Order         OrderResult `json:"order"`
	Status        OrderStatus `json:"status"`
}

// ArbitrageTrade is the immutable audit record of an executed arbitrage.
type ArbitrageTrade struct {
	ID                  string            `json:"id"`
	DateTime            time.Time         `json:"date_time"`
	IdealTrade          ArbitrageAnalysis `json:"ideal_trade"`
	ExpectedTrade       ArbitrageAnalysis `json:"expected_trade"`
	Base                string            `json:"base"`
	Quote               string            `json:"quote"`
	Buy                 TradeExecution    `json:"buy"`
	Sell                TradeExecution    `json:"sell"`
	DeltaBase           float64           `json:"delta_base"`
	DeltaBaseValue      float64           `json:"delta_base_value"`
	DeltaQuote          float64           `json:"delta_quote"`
	TotalFees           float64           `json:"total_fees"`
	EstimatedDeltaValue float64           `json:"estimated_delta_value"`
}

// RebalanceTrade is the immutable audit record of one rebalance attempt.
type RebalanceTrade struct {
	ID             string           `json:"id"`
	DateTime       time.Time        `json:"date_time"`
	ExpectedTrade  []TradeAnalysis  `json:"expected_trade"`
	Base           string           `json:"base"`
	Quote          string           `json:"quote"`
	Side           Side             `json:"side"`
	Orders         []TradeExecution `json:"orders"`
	DeltaBase      float64          `json:"delta_base"`
	DeltaBaseValue float64          `json:"delta_base_value"`
	DeltaQuote     float64          `json:"delta_quote"`
	VWAP           float64          `json:"vwap"`
	ExecutedVolume float64          `json:"executed_volume"`
	TotalFees      float64          `json:"total_fees"`
}
