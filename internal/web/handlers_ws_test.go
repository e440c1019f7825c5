package web

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func newTestHub(t *testing.T) *WSHub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewWSHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub(t)

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, ok := hub.clients[client]
	hub.mu.RUnlock()
	if !ok {
		t.Fatal("client not registered")
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, ok = hub.clients[client]
	hub.mu.RUnlock()
	if ok {
		t.Fatal("client still registered after unregister")
	}
}

func TestWSHubBroadcast(t *testing.T) {
	hub := newTestHub(t)

	a := &wsClient{send: make(chan []byte, 16)}
	b := &wsClient{send: make(chan []byte, 16)}
	hub.register <- a
	hub.register <- b
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(map[string]string{"type": "scan_started"})

	for _, c := range []*wsClient{a, b} {
		select {
		case msg := <-c.send:
			if string(msg) != `{"type":"scan_started"}` {
				t.Errorf("message = %s", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub(t)

	slow := &wsClient{send: make(chan []byte, 1)}
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	// First fills the buffer, second finds it full and evicts the client.
	hub.Broadcast(map[string]string{"seq": "one"})
	hub.Broadcast(map[string]string{"seq": "two"})
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, ok := hub.clients[slow]
	hub.mu.RUnlock()
	if ok {
		t.Fatal("slow client not evicted")
	}
}

func TestWSHubBroadcastAfterStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewWSHub(logger)
	go hub.Run()
	hub.Stop()
	hub.Stop() // idempotent

	// Must not block or panic.
	hub.Broadcast(map[string]string{"type": "after_stop"})
}

func TestWSHubStopClosesClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewWSHub(logger)
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()

	select {
	case _, open := <-client.send:
		if open {
			t.Fatal("expected send channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on stop")
	}
}
