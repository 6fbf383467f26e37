package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
)

type memorySink struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
	closed bool
}

func (s *memorySink) Publish(_ context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	return s.err
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestHubForwardsNewMessages(t *testing.T) {
	b := bus.New()
	sink := &memorySink{}
	hub := NewHub(b, sink, time.Second, nil)
	hub.Start()
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()
	c1, c2 := dial(t, srv), dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 2 })

	b.Publish(bus.NewEvent(bus.KindMessageNew, &store.Message{ID: "m1", ChatID: "c1", Text: "hi"}))
	b.Publish(bus.NewEvent(bus.KindOutboxSent, &store.PendingMessage{MessageID: "p1"}))

	for _, c := range []*websocket.Conn{c1, c2} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, data, err := c.Read(ctx)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		var env struct {
			Type    string        `json:"type"`
			Payload store.Message `json:"payload"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != TypeMessageNew || env.Payload.ID != "m1" || env.Payload.Text != "hi" {
			t.Errorf("envelope = %+v", env)
		}
	}
	waitFor(t, func() bool { return sink.count() == 1 })
	_ = c1.Close(websocket.StatusNormalClosure, "")
	_ = c2.Close(websocket.StatusNormalClosure, "")
}

func TestHubDropsDisconnectedSubscribers(t *testing.T) {
	hub := NewHub(bus.New(), nil, time.Second, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })
	_ = c.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return hub.Len() == 0 })

	if n := hub.Broadcast(context.Background(), Envelope{Type: TypeMessageNew}); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestHubSinkErrorDoesNotBlockSubscribers(t *testing.T) {
	sink := &memorySink{err: errors.New("broker down")}
	hub := NewHub(bus.New(), sink, time.Second, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	c := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })

	if n := hub.Broadcast(context.Background(), Envelope{Type: TypeMessageNew, Payload: map[string]string{"id": "m1"}}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); err != nil {
		t.Fatal(err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
	hub.Close()
}

func TestHubCloseDisconnectsAndRejects(t *testing.T) {
	sink := &memorySink{}
	hub := NewHub(bus.New(), sink, time.Second, nil)
	hub.Start()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })
	readErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := c.Read(ctx)
		readErr <- err
	}()
	hub.Close()
	hub.Close()

	if hub.Len() != 0 || !sink.closed {
		t.Errorf("len = %d, sink closed = %v", hub.Len(), sink.closed)
	}
	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read err = %v, want going away", err)
	}

	// New subscribers are turned away after close.
	late := dial(t, srv)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if _, _, err := late.Read(ctx2); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("late subscriber err = %v", err)
	}
}
