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

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

type fakeBus struct {
	ch chan []byte
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if channel != domain.ChannelOpportunities {
		return make(chan []byte), nil
	}
	return b.ch, nil
}
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, cfg Config) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (int, map[string]any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return typ, env
}

func TestHelloThenBroadcast(t *testing.T) {
	hub, conn := startHub(t, Config{
		Status: func() domain.BotStatus { return domain.BotStatus{Mode: "scan", Assets: 3} },
	})

	typ, hello := readEnvelope(t, conn)
	if typ != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", typ)
	}
	if hello["type"] != domain.EventStatus {
		t.Fatalf("hello = %v", hello)
	}
	payload := hello["payload"].(map[string]any)
	if payload["mode"] != "scan" || payload["assets"] != float64(3) {
		t.Fatalf("hello payload = %v", payload)
	}

	msg, _ := domain.EncodeEnvelope(domain.EventRate, domain.RateObservation{Source: "A", Target: "B", Venue: "v", Rate: 2})
	hub.Broadcast("not-subscribed", []byte(`{"type":"ignored"}`))
	hub.Broadcast(domain.ChannelRates, msg)

	_, got := readEnvelope(t, conn)
	if got["type"] != domain.EventRate {
		t.Fatalf("got %v, want rate envelope", got)
	}
}

func TestBridgesBusChannel(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 1)}
	_, conn := startHub(t, Config{
		Bus:            bus,
		BridgeChannels: []string{domain.ChannelOpportunities},
	})
	readEnvelope(t, conn) // hello

	bus.ch <- []byte(`{"type":"opportunity","payload":{"id":"x"}}`)
	_, got := readEnvelope(t, conn)
	if got["type"] != domain.EventOpportunity {
		t.Fatalf("got %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, conn := startHub(t, Config{})
	readEnvelope(t, conn)

	if err := conn.WriteJSON(map[string]any{"action": "unsubscribe", "channels": []string{domain.ChannelRates}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The server applies the change asynchronously; wait until a rate stops
	// arriving before the opportunity that follows it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.Broadcast(domain.ChannelRates, []byte(`{"type":"rate"}`))
		hub.Broadcast(domain.ChannelOpportunities, []byte(`{"type":"opportunity"}`))
		_, got := readEnvelope(t, conn)
		if got["type"] == domain.EventOpportunity {
			break
		}
		// Drain the opportunity that followed the rate.
		readEnvelope(t, conn)
		if time.Now().After(deadline) {
			t.Fatal("rates still delivered after unsubscribe")
		}
	}
}
