package executor

import (
	"math"
	"sync"
	"time"
)

type seenTrade struct {
	buyVolume  float64
	sellVolume float64
	at         time.Time
}

// Dedup suppresses repeats of the same simulated opportunity across ticks.
// It is safe for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]seenTrade // base/buy/sell -> last accepted
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup that forgets an opportunity after ttl. A zero ttl
// never forgets.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]seenTrade),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsRepeat reports whether the same venue pair was accepted within the TTL
// with both leg volumes within tolerance of these. A non-repeat is recorded.
func (d *Dedup) IsRepeat(base, buyVenue, sellVenue string, buyVolume, sellVolume, tolerance float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := base + "/" + buyVenue + "/" + sellVenue
	now := d.now()
	if last, ok := d.seen[key]; ok && (d.ttl <= 0 || now.Sub(last.at) < d.ttl) {
		if math.Abs(last.buyVolume-buyVolume) < tolerance && math.Abs(last.sellVolume-sellVolume) < tolerance {
			return true
		}
	}
	d.seen[key] = seenTrade{buyVolume: buyVolume, sellVolume: sellVolume, at: now}
	return false
}

// Cleanup drops entries older than the TTL.
func (d *Dedup) Cleanup() {
	if d.ttl <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, s := range d.seen {
		if now.Sub(s.at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
