package signalling

import (
	"github.com/pion/webrtc/v4"
)

// Message types sent from client to server.
const (
	TypeJoinRoom     = "join-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeLeaveRoom    = "leave-room"
)

// Message types sent from server to client.
// TypeOffer, TypeAnswer and TypeICECandidate are relayed under the same
// type string, with Sender stamped by the server.
const (
	TypeJoinedRoom    = "joined-room"
	TypeExistingUsers = "existing-users"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeError         = "error"
)

// Occupant identifies one participant of a room as seen by other
// participants: the server-assigned connection identifier plus the
// display nickname.
type Occupant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Envelope is the single wire message exchanged over the signalling
// transport, in both directions. Type selects which of the optional
// fields are meaningful.
//
// SDP payloads and ICE candidates travel as their pion representations;
// browsers produce the identical JSON shape, so either end of a session
// may be a browser client.
type Envelope struct {
	Type string `json:"type"`

	// Room addressing. RoomCode is set by clients on join-room and
	// leave-room. Target addresses a relay at a specific remote
	// connection; Sender is stamped by the server on every relayed or
	// broadcast message so the receiver knows who it concerns.
	RoomCode string `json:"roomCode,omitempty"`
	Target   string `json:"target,omitempty"`
	Sender   string `json:"id,omitempty"`

	// Join fields.
	Nickname  string     `json:"nickname,omitempty"`
	RoomSize  int        `json:"roomSize,omitempty"`
	Occupants []Occupant `json:"occupants,omitempty"`

	// Negotiation payloads.
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// Error description, sent to the offending connection only.
	Message string `json:"message,omitempty"`
}
