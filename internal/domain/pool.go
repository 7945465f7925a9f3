package domain

import "time"

// ExchangeBalance is the holding of one asset pool on one venue.
type ExchangeBalance struct {
	Venue         string  `json:"venue"`
	Base          float64 `json:"base"`
	BaseValue     float64 `json:"base_value"`
	Quote         float64 `json:"quote"`
	ExchangePrice float64 `json:"exchange_price"`
}

// BaseLog is the ledger entry for one tracked base asset. SumBase and
// SumQuote always equal the sums over ExchangeBalances.
type BaseLog struct {
	ID                       string                     `json:"id"`
	Timestamp                time.Time                  `json:"timestamp"`
	Base                     string                     `json:"base"`
	Quote                    string                     `json:"quote"`
	BasePrice                float64                    `json:"base_price"`
	SumBase                  float64                    `json:"sum_base"`
	SumBaseValue             float64                    `json:"sum_base_value"`
	SumQuote                 float64                    `json:"sum_quote"`
	InitialInvestment        float64                    `json:"initial_investment"`
	InitialInvestmentVWAP    float64                    `json:"initial_investment_vwap"`
	ExchangeBalances         map[string]ExchangeBalance `json:"exchange_balances"`
	LastRebalanceTs          time.Time                  `json:"last_rebalance_ts"`
	LastRebalancePrice       float64                    `json:"last_rebalance_price"`
	EstimatedArbProfit       float64                    `json:"estimated_arb_profit"`
	EstimatedRebalanceProfit float64                    `json:"estimated_rebalance_profit"`
	EstimatedFees            float64                    `json:"estimated_fees"`
}

// NewBaseLog returns the zero ledger entry used when the store has no
// history for base.
func NewBaseLog(base, quote string) BaseLog {
	return BaseLog{
		Base:             base,
		Quote:            quote,
		ExchangeBalances: make(map[string]ExchangeBalance),
	}
}

// Clone deep-copies the venue balance map.
func (l BaseLog) Clone() BaseLog {
	out := l
	out.ExchangeBalances = make(map[string]ExchangeBalance, len(l.ExchangeBalances))
	for k, v := range l.ExchangeBalances {
		out.ExchangeBalances[k] = v
	}
	return out
}

// PoolBalance is a holding in native units and in quote value.
type PoolBalance struct {
	Actual float64 `json:"actual"`
	Value  float64 `json:"value"`
}
