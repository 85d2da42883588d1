package feed_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thebridgeproject/bridge/internal/feed"
	"github.com/thebridgeproject/bridge/internal/journey"
)

func startHub(t *testing.T, opts feed.Options) (*feed.Hub, *journey.Store, *httptest.Server) {
	t.Helper()
	store := journey.NewStore(journey.Config{}, nil)
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := feed.NewHub(store, opts)
	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, store, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *feed.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", hub.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StreamsEvents(t *testing.T) {
	hub, store, srv := startHub(t, feed.Options{})
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	store.AddEvent(journey.Event{ID: "e1", EventType: "prayer_offered", UserType: "visitor", SessionID: "s1", Timestamp: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got journey.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.ID != "e1" || got.EventType != "prayer_offered" {
		t.Errorf("received %+v", got)
	}
}

func TestHub_Filter(t *testing.T) {
	hub, store, srv := startHub(t, feed.Options{})
	conn := dial(t, srv, "?filter="+url.QueryEscape(`eventType == "letter_generated"`))
	waitClients(t, hub, 1)

	store.AddEvent(journey.Event{ID: "skip", EventType: "page_view", UserType: "visitor", SessionID: "s1", Timestamp: time.Now()})
	store.AddEvent(journey.Event{ID: "keep", EventType: "letter_generated", UserType: "advocate", SessionID: "s1", Timestamp: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got journey.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.ID != "keep" {
		t.Errorf("first event = %s, want keep", got.ID)
	}
}

func TestHub_BadFilter(t *testing.T) {
	_, _, srv := startHub(t, feed.Options{})
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?filter=" + url.QueryEscape("eventType ==")
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial succeeded with a bad filter")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %+v, want 400", resp)
	}
}

func TestHub_OriginCheck(t *testing.T) {
	_, _, srv := startHub(t, feed.Options{AllowedOrigins: []string{"https://bridge.example"}})
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	h := http.Header{"Origin": {"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(u, h); err == nil {
		t.Error("foreign origin accepted")
	}
	h = http.Header{"Origin": {"https://bridge.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(u, h)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	_ = conn.Close()
}

func TestHub_Disconnect(t *testing.T) {
	hub, _, srv := startHub(t, feed.Options{})
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	_ = conn.Close()
	waitClients(t, hub, 0)
}
