package gateway

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/obslog"
	"github.com/sdubid/chessbit/internal/session"
	"github.com/sdubid/chessbit/pkg/wire"
)

var (
	ErrConnGone   = errors.New("connection gone")
	ErrBufferFull = errors.New("send buffer full")
)

// ConnState is the lifecycle of one realtime connection. Unauthenticated
// connections never reach the hub; they are refused before the upgrade.
type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateBound
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unauthenticated"
	}
}

type client struct {
	id     session.ConnectionID
	userID session.UserID
	send   chan wire.Event
	done   chan struct{}
	once   sync.Once

	stateMu sync.Mutex
	state   ConnState

	// games is owned by the connection's read loop.
	games map[string]struct{}
}

func (c *client) setState(s ConnState) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()
	if prev != s {
		obslog.L().Debug("ws_state",
			zap.String("conn", string(c.id)),
			zap.String("user_id", string(c.userID)),
			zap.String("from", prev.String()),
			zap.String("to", s.String()))
	}
}

func (c *client) State() ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks live connections and implements session.Emitter with a bounded
// per-connection queue.
type Hub struct {
	buffer int

	mu      sync.RWMutex
	clients map[session.ConnectionID]*client
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, clients: make(map[session.ConnectionID]*client)}
}

func (h *Hub) register(userID session.UserID) *client {
	c := &client{
		id:     session.ConnectionID(uuid.NewString()),
		userID: userID,
		send:   make(chan wire.Event, h.buffer),
		done:   make(chan struct{}),
		state:  StateAuthenticated,
		games:  make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	c.setState(StateClosed)
}

// Emit queues ev for conn without blocking. A full queue closes the connection.
func (h *Hub) Emit(conn session.ConnectionID, ev wire.Event) error {
	h.mu.RLock()
	c := h.clients[conn]
	h.mu.RUnlock()
	if c == nil {
		return ErrConnGone
	}
	select {
	case <-c.done:
		return ErrConnGone
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		// slow clients are disconnected and re-join for the full state
		obslog.L().Warn("ws_send_dropped",
			zap.String("conn", string(conn)),
			zap.String("user_id", string(c.userID)),
			zap.String("event", ev.Name))
		h.drop(c)
		return ErrBufferFull
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
