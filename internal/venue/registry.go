// Package venue groups the configured exchange clients and answers the
// per-venue questions the strategy and ledger ask by name.
package venue

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// DefaultFeeRate applies to venues that do not report their own.
const DefaultFeeRate = 0.003

// Registry holds exchange clients keyed by name.
type Registry struct {
	clients map[string]domain.ExchangeClient
	names   []string
}

// NewRegistry builds a registry. A later client with a duplicate name
// replaces the earlier one.
func NewRegistry(clients ...domain.ExchangeClient) *Registry {
	r := &Registry{clients: make(map[string]domain.ExchangeClient, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	for name := range r.clients {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// Get returns the named client.
func (r *Registry) Get(name string) (domain.ExchangeClient, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("venue: %q: %w", name, domain.ErrUnknownVenue)
	}
	return c, nil
}

// All returns every client ordered by name.
func (r *Registry) All() []domain.ExchangeClient {
	out := make([]domain.ExchangeClient, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.clients[n])
	}
	return out
}

// Names returns the sorted venue names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// FeeRate returns the venue's taker fee, or DefaultFeeRate when the venue is
// unknown or reports none.
func (r *Registry) FeeRate(name string) float64 {
	c, ok := r.clients[name]
	if !ok {
		return DefaultFeeRate
	}
	if f := c.FeeRate(); f > 0 {
		return f
	}
	return DefaultFeeRate
}

// HasMarket reports whether the named venue lists base/quote.
func (r *Registry) HasMarket(name, base, quote string) bool {
	c, ok := r.clients[name]
	return ok && c.HasMarket(base, quote)
}
