package relay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

// ConnTable tracks live participant websockets keyed by their
// server-assigned connection identifier, and implements Sender over
// them. It is the direct-socket realization of the message bus; a
// hosted presence-channel bridge could satisfy Sender instead without
// the router changing.
type ConnTable struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewConnTable creates an empty table. allowedOrigin restricts websocket
// upgrades; "*" accepts any origin. If no logger is given, slog.Default()
// is used.
func NewConnTable(allowedOrigin string, logger *slog.Logger) *ConnTable {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnTable{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		conns: make(map[string]*conn),
	}
}

// SendTo queues one envelope for the identified connection. It returns
// false when the connection is unknown (already gone) or its send
// buffer is full, in which case the message is dropped; churn makes
// both expected, never an error.
func (t *ConnTable) SendTo(id string, env *signalling.Envelope) bool {
	t.mu.RLock()
	c, ok := t.conns[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	// send is never closed, so this cannot panic even when the conn is
	// unregistered between the lookup above and the send below; done
	// wins the race and the message is dropped.
	select {
	case <-c.done:
		return false
	case c.send <- env:
		return true
	default:
		t.logger.Warn("send buffer full, dropping message", "conn", id, "type", env.Type)
		return false
	}
}

// Count returns the number of live connections.
func (t *ConnTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *ConnTable) register(c *conn) {
	t.mu.Lock()
	t.conns[c.id] = c
	t.mu.Unlock()
}

func (t *ConnTable) unregister(c *conn) {
	t.mu.Lock()
	if _, ok := t.conns[c.id]; ok {
		delete(t.conns, c.id)
		close(c.done)
	}
	t.mu.Unlock()
}

// ServeWS returns the websocket upgrade handler. Each accepted
// connection gets a fresh identifier and its own read/write pump pair;
// inbound messages are dispatched to the router on the read goroutine.
func (t *ConnTable) ServeWS(router *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.logger.Debug("websocket upgrade failed", "err", err)
			return
		}

		c := &conn{
			id:   uuid.NewString(),
			ws:   ws,
			send: make(chan *signalling.Envelope, sendBufferSize),
			done: make(chan struct{}),
		}
		c.logger = t.logger.With("conn", c.id)
		c.logger.Debug("connection established", "remoteAddr", ws.RemoteAddr())

		t.register(c)
		go c.writePump()
		c.readPump(t, router)
	}
}
