// Package memory provides an in-process LedgerStore for simulation runs and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// LedgerStore keeps every appended record in memory.
type LedgerStore struct {
	mu         sync.RWMutex
	baseLogs   map[string][]domain.BaseLog
	arbitrage  map[string][]domain.ArbitrageTrade
	rebalances map[string][]domain.RebalanceTrade
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
var _ domain.LedgerReader = (*LedgerStore)(nil)

// NewLedgerStore returns an empty store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		baseLogs:   make(map[string][]domain.BaseLog),
		arbitrage:  make(map[string][]domain.ArbitrageTrade),
		rebalances: make(map[string][]domain.RebalanceTrade),
	}
}

func (s *LedgerStore) AppendBaseLog(_ context.Context, log domain.BaseLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseLogs[log.Base] = append(s.baseLogs[log.Base], log.Clone())
	return nil
}

func (s *LedgerStore) AppendArbitrage(_ context.Context, trade domain.ArbitrageTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrage[trade.Base] = append(s.arbitrage[trade.Base], trade)
	return nil
}

func (s *LedgerStore) AppendRebalance(_ context.Context, trade domain.RebalanceTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebalances[trade.Base] = append(s.rebalances[trade.Base], trade)
	return nil
}

// LatestBaseLog returns the entry with the newest timestamp.
func (s *LedgerStore) LatestBaseLog(_ context.Context, base string) (domain.BaseLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.baseLogs[base]
	if len(logs) == 0 {
		return domain.BaseLog{}, domain.ErrNotFound
	}
	latest := logs[0]
	for _, l := range logs[1:] {
		if !l.Timestamp.Before(latest.Timestamp) {
			latest = l
		}
	}
	return latest.Clone(), nil
}

// BaseLogs returns every appended entry for base in append order.
func (s *LedgerStore) BaseLogs(base string) []domain.BaseLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.BaseLog(nil), s.baseLogs[base]...)
}

func (s *LedgerStore) ListArbitrage(_ context.Context, base string, opts domain.ListOpts) ([]domain.ArbitrageTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ArbitrageTrade
	for i := len(s.arbitrage[base]) - 1; i >= 0; i-- {
		t := s.arbitrage[base][i]
		if opts.Since != nil && t.DateTime.Before(*opts.Since) {
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *LedgerStore) ListRebalance(_ context.Context, base string, opts domain.ListOpts) ([]domain.RebalanceTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RebalanceTrade
	for i := len(s.rebalances[base]) - 1; i >= 0; i-- {
		t := s.rebalances[base][i]
		if opts.Since != nil && t.DateTime.Before(*opts.Since) {
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
