package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type frame struct {
	Type  string       `json:"type"`
	Kinds []string     `json:"kinds"`
	Event domain.Event `json:"event"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestHubFiltersByKind(t *testing.T) {
	bus := chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, "arbbot:events:*", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if f := readFrame(t, conn); f.Type != "hello" {
		t.Fatalf("first frame=%+v", f)
	}
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Kinds: []string{"Rebalance"}}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "subscribed" || len(f.Kinds) != 1 || f.Kinds[0] != "rebalance" {
		t.Fatalf("ack=%+v", f)
	}

	for _, ev := range []domain.Event{
		{Kind: domain.EventArbitrage, Base: "ETH"},
		{Kind: domain.EventRebalance, Base: "BTC"},
	} {
		data, _ := json.Marshal(ev)
		bus.ch <- data
	}

	f := readFrame(t, conn)
	if f.Type != "event" || f.Event.Kind != domain.EventRebalance || f.Event.Base != "BTC" {
		t.Fatalf("event frame=%+v", f)
	}
}

func TestClientWantsEverythingByDefault(t *testing.T) {
	c := &client{kinds: make(map[string]bool)}
	if !c.wants("alert") {
		t.Fatal("empty filter should accept every kind")
	}
	c.apply(subscribeMsg{Action: "subscribe", Kinds: []string{"arbitrage"}})
	if c.wants("alert") || !c.wants("arbitrage") {
		t.Fatal("filter not applied")
	}
	c.apply(subscribeMsg{Action: "reset"})
	if !c.wants("alert") {
		t.Fatal("reset should clear the filter")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	c := &client{send: make(chan []byte, 1), kinds: make(map[string]bool)}
	if !c.enqueue([]byte("a")) {
		t.Fatal("first enqueue failed")
	}
	if c.enqueue([]byte("b")) {
		t.Fatal("full buffer accepted a frame")
	}
	c.close()
	c.close()
	if c.enqueue([]byte("c")) {
		t.Fatal("closed client accepted a frame")
	}
}
