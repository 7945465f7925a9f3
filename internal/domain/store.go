package domain

import (
	"context"
	"time"
)

// ExchangeClient is the capability set the engine needs from one venue.
type ExchangeClient interface {
	Name() string
	FeeRate() float64
	HasMarket(base, quote string) bool
	FetchOrderbook(ctx context.Context, base, quote string, depth int) (Orderbook, error)
	// FetchBalances returns available amounts keyed by asset symbol.
	FetchBalances(ctx context.Context) (map[string]float64, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOpenOrders(ctx context.Context, base, quote string) error
	QueryOrder(ctx context.Context, base, quote, orderID string) (OrderStatus, error)
}

// LedgerStore is the append-only audit log. LatestBaseLog returns ErrNotFound
// when nothing was ever appended for base.
type LedgerStore interface {
	AppendBaseLog(ctx context.Context, log BaseLog) error
	AppendArbitrage(ctx context.Context, trade ArbitrageTrade) error
	AppendRebalance(ctx context.Context, trade RebalanceTrade) error
	LatestBaseLog(ctx context.Context, base string) (BaseLog, error)
}

// ListOpts bounds history queries.
type ListOpts struct {
	Limit int
	Since *time.Time
}

// LedgerReader exposes audit history for reporting.
type LedgerReader interface {
	ListArbitrage(ctx context.Context, base string, opts ListOpts) ([]ArbitrageTrade, error)
	ListRebalance(ctx context.Context, base string, opts ListOpts) ([]RebalanceTrade, error)
}
