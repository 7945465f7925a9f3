// Package market holds the latest order book per venue and asset, and the
// refresh loop that fills it from venue clients.
package market

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type bookKey struct {
	venue string
	base  string
}

// Snapshot is the process-wide book cache. Every read returns a deep copy, so
// callers may mutate what they get without affecting other readers.
type Snapshot struct {
	mu    sync.RWMutex
	books map[bookKey]domain.Orderbook
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{books: make(map[bookKey]domain.Orderbook)}
}

// Put stores a private copy of book, replacing any previous entry.
func (s *Snapshot) Put(book domain.Orderbook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[bookKey{book.Venue, book.Base}] = book.Clone()
}

// Get returns a copy of the book for venue and base.
func (s *Snapshot) Get(venue, base string) (domain.Orderbook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[bookKey{venue, base}]
	if !ok {
		return domain.Orderbook{}, false
	}
	return b.Clone(), true
}

// Books returns copies of every cached book for base, ordered by venue name.
func (s *Snapshot) Books(base string) []domain.Orderbook {
	s.mu.RLock()
	out := make([]domain.Orderbook, 0, len(s.books))
	for k, b := range s.books {
		if k.base == base {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// Invalidate drops the cached book so the next reader must wait for a fresh
// fetch.
func (s *Snapshot) Invalidate(venue, base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, bookKey{venue, base})
}

// FairPrice is the mean of the best bid/ask midpoints over every venue with a
// two-sided book for base.
func (s *Snapshot) FairPrice(base string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	var n int
	for k, b := range s.books {
		if k.base != base || !b.TwoSided() {
			continue
		}
		sum += (b.Asks[0].Price + b.Bids[0].Price) / 2
		n++
	}
	if n == 0 {
		return 0, domain.ErrNoFairPrice
	}
	return sum / float64(n), nil
}

// ExchangePrice is the midpoint of one venue's book.
func (s *Snapshot) ExchangePrice(venue, base string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[bookKey{venue, base}]
	if !ok || !b.TwoSided() {
		return 0, false
	}
	return (b.Asks[0].Price + b.Bids[0].Price) / 2, true
}
