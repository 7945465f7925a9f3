package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventKind classifies engine events for the bus and notifications.
type EventKind string

const (
	EventArbitrage EventKind = "arbitrage"
	EventRebalance EventKind = "rebalance"
	EventReconcile EventKind = "reconcile"
	EventAlert     EventKind = "alert"
)

// Event is a published engine occurrence.
type Event struct {
	Kind    EventKind         `json:"kind"`
	Base    string            `json:"base"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Time    time.Time         `json:"time"`
}
