package relay

import (
	"log/slog"

	"github.com/SmilePineapple/mind-express-video/internal/metrics"
	"github.com/SmilePineapple/mind-express-video/internal/room"
	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

// Sender is the addressable side of the message bus the router relays
// over: deliver one envelope to one connection. It reports false when
// the target is no longer connected. Room-wide broadcast is the router
// iterating registry membership, so any transport that can address a
// single connection can carry the protocol.
type Sender interface {
	SendTo(id string, env *signalling.Envelope) bool
}

// Router translates inbound per-connection events into registry
// operations and outbound messages. It owns no connection state itself;
// each inbound event is handled on its connection's read goroutine and
// all shared state lives behind the registry.
type Router struct {
	logger   *slog.Logger
	registry *room.Registry
	sender   Sender
}

func NewRouter(registry *room.Registry, sender Sender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		registry: registry,
		sender:   sender,
	}
}

// HandleMessage dispatches one inbound envelope from the identified
// connection. Unknown types are logged and dropped; no inbound message
// is ever fatal to the connection.
func (rt *Router) HandleMessage(senderID string, env *signalling.Envelope) {
	switch env.Type {
	case signalling.TypeJoinRoom:
		rt.handleJoin(senderID, env)
	case signalling.TypeOffer, signalling.TypeAnswer, signalling.TypeICECandidate:
		rt.relay(senderID, env)
	case signalling.TypeLeaveRoom:
		rt.handleLeave(senderID)
	default:
		rt.logger.Debug("unknown message type", "type", env.Type, "sender", senderID)
	}
}

// HandleDisconnect handles a transport-level disconnect, which has the
// same effect as an explicit leave using the sender's last known room.
func (rt *Router) HandleDisconnect(senderID string) {
	rt.handleLeave(senderID)
}

func (rt *Router) handleJoin(senderID string, env *signalling.Envelope) {
	roomCode := signalling.NormalizeRoomCode(env.RoomCode)
	others, err := rt.registry.Join(roomCode, senderID, env.Nickname)
	if err != nil {
		// Rejections go to the offending connection only; the
		// connection stays open and no room state has changed.
		rt.logger.Info(
			"join rejected",
			"sender", senderID,
			"roomCode", env.RoomCode,
			"reason", err,
		)
		rt.sender.SendTo(senderID, &signalling.Envelope{
			Type:    signalling.TypeError,
			Message: err.Error(),
		})
		return
	}

	nickname := signalling.NormalizeNickname(env.Nickname)
	roomSize := rt.registry.Size(roomCode)
	rt.logger.Info(
		"participant joined",
		"sender", senderID,
		"roomCode", roomCode,
		"nickname", nickname,
		"roomSize", roomSize,
	)

	rt.sender.SendTo(senderID, &signalling.Envelope{
		Type:     signalling.TypeJoinedRoom,
		RoomCode: roomCode,
		Nickname: nickname,
		RoomSize: roomSize,
	})
	rt.sender.SendTo(senderID, &signalling.Envelope{
		Type:      signalling.TypeExistingUsers,
		Occupants: others,
	})

	joined := &signalling.Envelope{
		Type:     signalling.TypeUserJoined,
		Sender:   senderID,
		Nickname: nickname,
	}
	for _, occupant := range others {
		rt.sender.SendTo(occupant.ID, joined)
	}
}

// relay forwards an offer, answer or ICE candidate point-to-point to
// the target connection, stamping the sender's identifier. A target
// that has gone away is a silent drop: the target's own disconnect
// handling is what informs its peers, not a relay failure.
func (rt *Router) relay(senderID string, env *signalling.Envelope) {
	roomCode, ok := rt.registry.RoomOf(senderID)
	if !ok {
		rt.logger.Debug("relay from connection outside any room", "sender", senderID, "type", env.Type)
		return
	}
	rt.registry.Touch(roomCode)

	delivered := rt.sender.SendTo(env.Target, &signalling.Envelope{
		Type:      env.Type,
		Sender:    senderID,
		SDP:       env.SDP,
		Candidate: env.Candidate,
	})
	if !delivered {
		rt.logger.Debug(
			"relay target not connected, dropped",
			"sender", senderID,
			"target", env.Target,
			"type", env.Type,
		)
		return
	}
	metrics.MessagesRelayed.WithLabelValues(env.Type).Inc()
}

func (rt *Router) handleLeave(senderID string) {
	roomCode, ok := rt.registry.RoomOf(senderID)
	if !ok {
		return
	}
	rt.registry.Leave(senderID)
	rt.logger.Info("participant left", "sender", senderID, "roomCode", roomCode)

	left := &signalling.Envelope{
		Type:   signalling.TypeUserLeft,
		Sender: senderID,
	}
	for _, occupant := range rt.registry.Occupants(roomCode, "") {
		rt.sender.SendTo(occupant.ID, left)
	}
}
