// Package fanout pushes newly stored messages to realtime subscribers.
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"go.uber.org/zap"
)

// TypeMessageNew is the envelope type of a new message notification.
const TypeMessageNew = "message:new"

const DefaultWriteTimeout = 5 * time.Second

// Envelope is the frame written to subscribers.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sink receives every envelope in addition to websocket subscribers.
type Sink interface {
	Publish(ctx context.Context, body []byte) error
	Close() error
}

type subscriber struct {
	id   string
	conn *websocket.Conn
}

// Hub is the registry of websocket subscribers. Delivery is best effort:
// a subscriber that fails a write is dropped and nothing is replayed.
type Hub struct {
	bus          *bus.Bus
	sink         Sink
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

// NewHub creates a hub. sink may be nil.
func NewHub(b *bus.Bus, sink Sink, writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		bus:          b,
		sink:         sink,
		writeTimeout: writeTimeout,
		logger:       logger,
		subs:         make(map[string]*subscriber),
	}
}

// Start forwards message.new bus events until Close.
func (h *Hub) Start() {
	events, unsubscribe := h.bus.Subscribe(bus.KindMessageNew, 256)
	h.unsubscribe = unsubscribe
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		for {
			select {
			case <-h.stop:
				return
			case evt := <-events:
				h.Broadcast(context.Background(), Envelope{Type: TypeMessageNew, Payload: evt.Payload})
			}
		}
	}()
}

// Broadcast writes env to every subscriber and the sink. It returns how many
// subscribers received it.
func (h *Hub) Broadcast(ctx context.Context, env Envelope) int {
	body, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.String("type", env.Type), zap.Error(err))
		return 0
	}

	if h.sink != nil {
		sctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		if err := h.sink.Publish(sctx, body); err != nil {
			h.logger.Warn("sink publish failed", zap.Error(err))
		}
		cancel()
	}

	delivered := 0
	for _, s := range h.snapshot() {
		wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := s.conn.Write(wctx, websocket.MessageText, body)
		cancel()
		if err != nil {
			h.logger.Warn("websocket send failed", zap.String("subscriber", s.id), zap.Error(err))
			h.remove(s.id)
			_ = s.conn.Close(websocket.StatusGoingAway, "write failed")
			continue
		}
		delivered++
	}
	return delivered
}

// ServeHTTP upgrades the request and keeps the subscriber registered until
// the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	id, ok := h.add(conn)
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(id)

	// Subscribers never send; reading only detects the close.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) add(conn *websocket.Conn) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", false
	}
	id := uuid.NewString()
	h.subs[id] = &subscriber{id: id, conn: conn}
	h.logger.Info("websocket connected", zap.String("subscriber", id), zap.Int("active", len(h.subs)))
	return id, true
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return
	}
	delete(h.subs, id)
	h.logger.Info("websocket disconnected", zap.String("subscriber", id), zap.Int("active", len(h.subs)))
}

func (h *Hub) snapshot() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops forwarding, disconnects every subscriber and closes the sink.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	if h.unsubscribe != nil {
		h.unsubscribe()
		close(h.stop)
		<-h.done
	}
	var wg sync.WaitGroup
	for _, s := range subs {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.conn.Close(websocket.StatusGoingAway, "shutting down")
		}()
	}
	wg.Wait()
	if h.sink != nil {
		if err := h.sink.Close(); err != nil {
			h.logger.Warn("failed to close sink", zap.Error(err))
		}
	}
}
