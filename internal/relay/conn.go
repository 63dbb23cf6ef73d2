package relay

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. SDP payloads fit comfortably.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// conn wraps one participant websocket. Outbound envelopes go through
// the buffered send channel; writePump is the only goroutine writing to
// the socket, readPump the only one reading.
//
// send is never closed: relays race against disconnects, so a sender
// may still hold the conn after unregister. Shutdown is signalled
// through done instead, and late envelopes left in the buffer are
// collected with the conn.
type conn struct {
	logger *slog.Logger
	id     string
	ws     *websocket.Conn
	send   chan *signalling.Envelope
	done   chan struct{}
}

// readPump reads inbound envelopes and hands them to the router. On any
// read error the connection is unregistered and the router's disconnect
// path runs, which has the same effect as an explicit leave.
func (c *conn) readPump(table *ConnTable, router *Router) {
	defer func() {
		table.unregister(c)
		router.HandleDisconnect(c.id)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env signalling.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", "err", err)
			}
			return
		}
		router.HandleMessage(c.id, &env)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings, until done is closed.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Debug("write error", "err", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
