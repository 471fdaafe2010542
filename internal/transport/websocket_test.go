package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/collab/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func TestWebSocketDialerRoundTrip(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConn(ws, time.Second)
		defer conn.Close()
		for {
			payload, err := conn.Receive()
			if err != nil {
				return
			}
			if err := conn.Send(r.Context(), payload); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := WebSocketDialer{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/doc-15",
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, []byte(`["open","doc-15",1]`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != `["open","doc-15",1]` {
		t.Fatalf("unexpected echo: %q", got)
	}
}

func TestWebSocketDialerReportsStatus(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected status error, got %v", err)
	}
}
