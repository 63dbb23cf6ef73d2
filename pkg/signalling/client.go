package signalling

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// Client is a signalling connection from a participant to the server.
//
// Reads happen on the goroutine calling Listen; writes may come from any
// goroutine (negotiation handlers fire concurrently) and are serialized
// by a mutex, as gorilla/websocket permits only one concurrent writer.
type Client struct {
	logger *slog.Logger

	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	roomCode  string
	closeOnce sync.Once
}

// Dial connects to the signalling server's websocket endpoint,
// e.g. "ws://localhost:3001/ws".
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		logger.Error(
			"error while dialing signalling server",
			"err", err,
			"serverURL", serverURL,
		)
		return nil, err
	}

	return &Client{
		logger: logger.With("serverURL", serverURL),
		conn:   conn,
	}, nil
}

func (c *Client) send(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// Join requests membership of a room. The server replies with joined-room
// and existing-users, or with an error message, on the Listen stream.
func (c *Client) Join(roomCode string, nickname string) error {
	roomCode = NormalizeRoomCode(roomCode)
	c.mu.Lock()
	c.roomCode = roomCode
	c.mu.Unlock()

	return c.send(&Envelope{
		Type:     TypeJoinRoom,
		RoomCode: roomCode,
		Nickname: nickname,
	})
}

func (c *Client) SendOffer(target string, sdp webrtc.SessionDescription) error {
	return c.send(&Envelope{Type: TypeOffer, Target: target, SDP: &sdp})
}

func (c *Client) SendAnswer(target string, sdp webrtc.SessionDescription) error {
	return c.send(&Envelope{Type: TypeAnswer, Target: target, SDP: &sdp})
}

func (c *Client) SendCandidate(target string, candidate webrtc.ICECandidateInit) error {
	return c.send(&Envelope{Type: TypeICECandidate, Target: target, Candidate: &candidate})
}

// Leave announces departure from the room joined earlier. The server also
// treats a dropped connection as a leave, so this is best-effort.
func (c *Client) Leave() error {
	c.mu.Lock()
	roomCode := c.roomCode
	c.mu.Unlock()
	if roomCode == "" {
		return nil
	}

	return c.send(&Envelope{Type: TypeLeaveRoom, RoomCode: roomCode})
}

// Listen reads server messages and passes each to handler until the
// connection closes or ctx is canceled. It returns the read error that
// terminated the loop, or nil after a clean close or cancellation.
func (c *Client) Listen(ctx context.Context, handler func(*Envelope)) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handler(&env)
	}
}

// Close tears down the websocket. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
