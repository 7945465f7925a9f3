package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// LedgerStore keeps the append-only audit trail. Each row carries the full
// record as JSONB next to the columns it is queried by.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
var _ domain.LedgerReader = (*LedgerStore)(nil)

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) AppendBaseLog(ctx context.Context, log domain.BaseLog) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("postgres: marshal pool log: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pool_logs (id, base, quote, logged_at, sum_base, sum_quote, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, log.Base, log.Quote, log.Timestamp, log.SumBase, log.SumQuote, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pool_log %s: %w", log.Base, err)
	}
	return nil
}

func (s *LedgerStore) AppendArbitrage(ctx context.Context, trade domain.ArbitrageTrade) error {
	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("postgres: marshal arbitrage trade: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO arbitrage_trades (id, base, executed_at, buy_venue, sell_venue, estimated_value, total_fees, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trade.ID, trade.Base, trade.DateTime, trade.Buy.Venue, trade.Sell.Venue,
		trade.EstimatedDeltaValue, trade.TotalFees, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arbitrage_trade %s: %w", trade.ID, err)
	}
	return nil
}

func (s *LedgerStore) AppendRebalance(ctx context.Context, trade domain.RebalanceTrade) error {
	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("postgres: marshal rebalance trade: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rebalance_trades (id, base, executed_at, side, executed_volume, vwap, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		trade.ID, trade.Base, trade.DateTime, string(trade.Side), trade.ExecutedVolume, trade.VWAP, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert rebalance_trade %s: %w", trade.ID, err)
	}
	return nil
}

// LatestBaseLog returns domain.ErrNotFound when base has no rows.
func (s *LedgerStore) LatestBaseLog(ctx context.Context, base string) (domain.BaseLog, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM pool_logs WHERE base = $1
		ORDER BY logged_at DESC LIMIT 1`,
		base,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BaseLog{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BaseLog{}, fmt.Errorf("postgres: latest pool_log %s: %w", base, err)
	}

	var log domain.BaseLog
	if err := json.Unmarshal(payload, &log); err != nil {
		return domain.BaseLog{}, fmt.Errorf("postgres: decode pool_log %s: %w", base, err)
	}
	return log, nil
}

func (s *LedgerStore) ListArbitrage(ctx context.Context, base string, opts domain.ListOpts) ([]domain.ArbitrageTrade, error) {
	return listPayloads[domain.ArbitrageTrade](ctx, s.pool, "arbitrage_trades", base, opts)
}

func (s *LedgerStore) ListRebalance(ctx context.Context, base string, opts domain.ListOpts) ([]domain.RebalanceTrade, error) {
	return listPayloads[domain.RebalanceTrade](ctx, s.pool, "rebalance_trades", base, opts)
}

// listQuery selects payloads of table for base, newest first.
func listQuery(table, base string, opts domain.ListOpts) (string, []any) {
	query := "SELECT payload FROM " + table + " WHERE base = $1"
	args := []any{base}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	query += " ORDER BY executed_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func listPayloads[T any](ctx context.Context, pool *pgxpool.Pool, table, base string, opts domain.ListOpts) ([]T, error) {
	query, args := listQuery(table, base, opts)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("postgres: decode %s: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", table, err)
	}
	return out, nil
}
