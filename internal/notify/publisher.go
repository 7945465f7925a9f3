package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const (
	// EventStream is the capped stream every event is appended to.
	EventStream = "arbbot:events"
	// drainTimeout bounds delivery of queued events after shutdown.
	drainTimeout = 5 * time.Second
)

// EventChannel is the Pub/Sub channel for events of kind.
func EventChannel(kind domain.EventKind) string {
	return EventStream + ":" + string(kind)
}

// Publisher queues events from the engine and delivers them to the bus and
// the notifier from a single goroutine. Emit never blocks; when the queue is
// full the event is dropped with a warning.
type Publisher struct {
	bus      domain.SignalBus // optional
	notifier *Notifier        // optional
	queue    chan domain.Event
	logger   *slog.Logger
}

// NewPublisher creates a Publisher with room for size queued events. Either
// bus or notifier may be nil.
func NewPublisher(bus domain.SignalBus, notifier *Notifier, size int, logger *slog.Logger) *Publisher {
	if size < 1 {
		size = 1
	}
	return &Publisher{
		bus:      bus,
		notifier: notifier,
		queue:    make(chan domain.Event, size),
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

func (p *Publisher) Emit(ctx context.Context, ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.WarnContext(ctx, "event queue full, dropping",
			slog.String("kind", string(ev.Kind)),
			slog.String("title", ev.Title),
		)
	}
}

// Run delivers queued events until ctx is done, then flushes what is left
// within drainTimeout.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, ev domain.Event) {
	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
			return
		}
		if err := p.bus.Publish(ctx, EventChannel(ev.Kind), payload); err != nil {
			p.logger.WarnContext(ctx, "publish event failed", slog.String("error", err.Error()))
		}
		if err := p.bus.StreamAppend(ctx, EventStream, payload); err != nil {
			p.logger.WarnContext(ctx, "append event failed", slog.String("error", err.Error()))
		}
	}
	if p.notifier != nil {
		// Notify already logs per-sender failures.
		_ = p.notifier.Notify(ctx, ev)
	}
}
