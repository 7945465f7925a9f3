package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type captured struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, m)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

var arbEvent = domain.Event{
	Kind:    domain.EventArbitrage,
	Base:    "ETH",
	Title:   "Arbitrage ETH A -> B",
	Message: "delta quote 2",
	Fields:  map[string]string{"id": "x1", "fees": "0.2"},
}

func TestTelegramSender(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "tok", "42")
	if err := s.Send(context.Background(), arbEvent); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.paths[0] != "/bottok/sendMessage" {
		t.Fatalf("path=%q", c.paths[0])
	}
	got := c.bodies[0]
	if got["chat_id"] != "42" || got["parse_mode"] != "Markdown" {
		t.Fatalf("body=%v", got)
	}
	want := "*Arbitrage ETH A -> B*\ndelta quote 2\nfees: 0.2\nid: x1"
	if got["text"] != want {
		t.Fatalf("text=%q want %q", got["text"], want)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	var c captured
	ok := httptest.NewServer(c.handler(http.StatusNoContent))
	defer ok.Close()
	bad := httptest.NewServer(c.handler(http.StatusTooManyRequests))
	defer bad.Close()

	if err := NewDiscordSender(ok.URL).Send(context.Background(), arbEvent); err != nil {
		t.Fatalf("204: %v", err)
	}
	if !strings.HasPrefix(c.bodies[0]["content"], "**Arbitrage ETH A -> B**\n") {
		t.Fatalf("content=%q", c.bodies[0]["content"])
	}
	err := NewDiscordSender(bad.URL).Send(context.Background(), arbEvent)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err=%v want status 429", err)
	}
}

type stubSender struct {
	name string
	err  error
	mu   sync.Mutex
	got  []domain.Event
}

func (s *stubSender) Send(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestNotifierFiltersKinds(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{" Alert "}, discard())

	_ = n.Notify(context.Background(), arbEvent)
	_ = n.Notify(context.Background(), domain.Event{Kind: domain.EventAlert, Title: "leg failed"})
	if s.count() != 1 || s.got[0].Kind != domain.EventAlert {
		t.Fatalf("got=%v", s.got)
	}

	all := NewNotifier([]Sender{s}, nil, discard())
	_ = all.Notify(context.Background(), arbEvent)
	if s.count() != 2 {
		t.Fatalf("empty filter should pass everything, got %d", s.count())
	}
}

func TestNotifierContinuesPastFailures(t *testing.T) {
	broken := &stubSender{name: "broken", err: io.ErrUnexpectedEOF}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{broken, good}, nil, discard())

	err := n.Notify(context.Background(), arbEvent)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err=%v", err)
	}
	if good.count() != 1 {
		t.Fatal("healthy sender skipped")
	}
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	streams  []string
	payloads [][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, stream)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestPublisherDeliversToBusAndNotifier(t *testing.T) {
	bus := &fakeBus{}
	s := &stubSender{name: "stub"}
	p := NewPublisher(bus, NewNotifier([]Sender{s}, nil, discard()), 8, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	p.Emit(ctx, arbEvent)
	p.Emit(ctx, domain.Event{Kind: domain.EventAlert, Title: "a"})

	deadline := time.Now().Add(2 * time.Second)
	for s.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if s.count() != 2 {
		t.Fatalf("notified %d, want 2", s.count())
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.channels) != 2 || bus.channels[0] != "arbbot:events:arbitrage" || bus.channels[1] != "arbbot:events:alert" {
		t.Fatalf("channels=%v", bus.channels)
	}
	if len(bus.streams) != 2 || bus.streams[0] != EventStream {
		t.Fatalf("streams=%v", bus.streams)
	}
	var ev domain.Event
	if err := json.Unmarshal(bus.payloads[0], &ev); err != nil || ev.Fields["id"] != "x1" || ev.Time.IsZero() {
		t.Fatalf("payload=%s err=%v", bus.payloads[0], err)
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	s := &stubSender{name: "stub"}
	p := NewPublisher(nil, NewNotifier([]Sender{s}, nil, discard()), 1, discard())

	p.Emit(context.Background(), arbEvent)
	p.Emit(context.Background(), arbEvent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Run(ctx)
	if s.count() != 1 {
		t.Fatalf("delivered %d, want 1", s.count())
	}
}
