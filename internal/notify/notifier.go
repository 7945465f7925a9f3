// Package notify fans engine events out to chat channels (Telegram, Discord)
// and to the Redis event bus.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Sender delivers one event to a single channel.
type Sender interface {
	Send(ctx context.Context, ev domain.Event) error
	Name() string
}

// Notifier forwards events of the allowed kinds to every sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool // empty means all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list allows every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends ev to every sender unless its kind is filtered out. One
// failing sender does not stop the others; all failures are joined.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if len(n.kinds) > 0 && !n.kinds[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(ev.Kind)))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", ev.Title),
		)
	}
	return errors.Join(errs...)
}

// body renders the message followed by the fields in key order.
func body(ev domain.Event) string {
	var b strings.Builder
	b.WriteString(ev.Message)
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Fields[k])
	}
	return b.String()
}
