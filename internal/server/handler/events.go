package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type streamEvent struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

// EventHandler pages through the durable event stream.
type EventHandler struct {
	bus    domain.SignalBus // optional; nil answers 501
	stream string
	logger *slog.Logger
}

func NewEventHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, stream: stream, logger: logger.With(slog.String("handler", "events"))}
}

// ListEvents returns stream entries after the given id. Callers page by
// passing the last returned id back as after.
// GET /api/events?after=0&limit=50
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotImplemented, "event stream not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "skipping malformed event", slog.String("id", m.ID))
			continue
		}
		out = append(out, streamEvent{ID: m.ID, Event: ev})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
