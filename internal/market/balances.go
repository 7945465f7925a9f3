package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type balanceEntry struct {
	amounts   map[string]float64
	fetchedAt time.Time
}

// BalanceCache memoizes FetchBalances per venue for a TTL.
type BalanceCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]balanceEntry
}

// NewBalanceCache creates a cache that reuses balances younger than ttl.
func NewBalanceCache(ttl time.Duration) *BalanceCache {
	return &BalanceCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]balanceEntry),
	}
}

// Get returns the venue's balances, fetching them when the cached copy is
// older than the TTL or force is set.
func (c *BalanceCache) Get(ctx context.Context, venue domain.ExchangeClient, force bool) (map[string]float64, error) {
	name := venue.Name()

	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && !force && c.now().Sub(e.fetchedAt) < c.ttl {
		return copyAmounts(e.amounts), nil
	}

	amounts, err := venue.FetchBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("market: fetch balances %s: %w", name, err)
	}

	c.mu.Lock()
	c.entries[name] = balanceEntry{amounts: copyAmounts(amounts), fetchedAt: c.now()}
	c.mu.Unlock()
	return amounts, nil
}

// Invalidate forces the next Get for venue to hit the network.
func (c *BalanceCache) Invalidate(venue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, venue)
}

func copyAmounts(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
