// Package mesh maintains one negotiation state machine per remote
// participant of a room, forming a full mesh of direct peer sessions.
//
// The orchestrator is written against three narrow seams: the media
// engine (MediaSession, one per remote peer), the signalling transport
// (Signaller), and the shared local capture source (LocalSource). The
// pion-backed realizations live in internal/media; tests substitute
// fakes.
package mesh

import (
	"github.com/pion/webrtc/v4"
)

// Role is the negotiation role this client holds toward one remote
// participant. The joiner that discovers a peer through the
// existing-users list initiates; the discovered peer responds. Exactly
// one side of every pair initiates, which is what prevents glare.
type Role int

const (
	RoleUnset Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unset"
	}
}

// LinkState is the negotiation state of one PeerLink.
type LinkState int

const (
	StateIdle LinkState = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteStream is an opaque handle to media arriving from a remote
// participant, exposed on the orchestrator's remote peers view.
type RemoteStream interface {
	ID() string
}

// MediaSession is the external media engine's surface for a single
// peer-to-peer session. Descriptions and candidates use the engine's
// wire representations; everything else about transport and encryption
// stays behind this interface.
//
// The three On* callbacks must be registered before negotiation starts;
// implementations invoke them from the engine's own goroutines.
type MediaSession interface {
	// CreateOffer produces and locally applies an offer.
	CreateOffer() (webrtc.SessionDescription, error)

	// AcceptOffer applies a remote offer and produces a locally
	// applied answer.
	AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)

	// AcceptAnswer applies the remote answer to an offer this session
	// created.
	AcceptAnswer(answer webrtc.SessionDescription) error

	// AddRemoteCandidate feeds one remote ICE candidate to the engine.
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error

	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnRemoteTrack(func(RemoteStream))
	OnStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// SessionFactory creates the media session for one remote participant.
type SessionFactory func(remoteID string) (MediaSession, error)

// Signaller carries negotiation messages to the room's other
// participants, addressed by connection identifier.
type Signaller interface {
	SendOffer(target string, sdp webrtc.SessionDescription) error
	SendAnswer(target string, sdp webrtc.SessionDescription) error
	SendCandidate(target string, candidate webrtc.ICECandidateInit) error
	Leave() error
}

// LocalSource is the single local capture source shared across every
// peer session. Mute and video toggles act on capture only and take
// effect for all sessions at once.
type LocalSource interface {
	SetMuted(bool)
	Muted() bool
	SetVideoOff(bool)
	VideoOff() bool
	Close() error
}
