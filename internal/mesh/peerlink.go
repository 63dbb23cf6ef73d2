package mesh

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// errStaleAnswer marks an answer that arrived while the link was not in
// offer-sent state: a duplicate delivery or a message outliving its
// negotiation. Discarded, never fatal.
var errStaleAnswer = errors.New("answer received outside offer-sent state")

// PeerLink is the negotiation state machine toward one remote
// participant.
//
// Each link has its own mutex; operations on one link never block or
// depend on another, and the guards below keep negotiation correct even
// when signalling messages arrive reordered relative to the engine's
// asynchronous steps.
//
//	Idle -> OfferSent  (local initiates)  -> Connected (answer received)
//	Idle -> AnswerSent (remote's offer)   -> Connected (engine reports connected)
//	any  -> Closed     (departure, transport failure, end-call)
type PeerLink struct {
	logger *slog.Logger

	id       string
	nickname string
	role     Role

	mu      sync.Mutex
	state   LinkState
	session MediaSession

	shutdownOnce sync.Once
}

func newPeerLink(id string, nickname string, role Role, session MediaSession, logger *slog.Logger) *PeerLink {
	link := &PeerLink{
		id:       id,
		nickname: nickname,
		role:     role,
		state:    StateIdle,
		session:  session,
	}
	link.logger = logger.With(
		"peer", id,
		"role", role.String(),
	)
	return link
}

func (l *PeerLink) ID() string       { return l.id }
func (l *PeerLink) Nickname() string { return l.nickname }
func (l *PeerLink) Role() Role       { return l.role }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// sendOffer creates the local offer, hands it to the signaller and
// enters OfferSent.
func (l *PeerLink) sendOffer(sig Signaller) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	offer, err := l.session.CreateOffer()
	if err != nil {
		return err
	}
	if err := sig.SendOffer(l.id, offer); err != nil {
		return err
	}
	l.state = StateOfferSent
	l.logger.Debug("offer sent")
	return nil
}

// acceptOffer applies a remote offer, sends the answer back and enters
// AnswerSent.
func (l *PeerLink) acceptOffer(offer webrtc.SessionDescription, sig Signaller) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return nil
	}
	answer, err := l.session.AcceptOffer(offer)
	if err != nil {
		return err
	}
	if err := sig.SendAnswer(l.id, answer); err != nil {
		return err
	}
	l.state = StateAnswerSent
	l.logger.Debug("answer sent")
	return nil
}

// acceptAnswer applies a remote answer, but only when this link has an
// outstanding offer. Anything else returns errStaleAnswer with state
// unchanged.
func (l *PeerLink) acceptAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOfferSent {
		return errStaleAnswer
	}
	if err := l.session.AcceptAnswer(answer); err != nil {
		return err
	}
	l.state = StateConnected
	l.logger.Debug("answer applied, link connected")
	return nil
}

// addCandidate feeds a remote ICE candidate to the session regardless
// of negotiation state. Candidates trickle in at any time after the
// local description is set; the session queues early arrivals.
func (l *PeerLink) addCandidate(candidate webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return
	}
	if err := l.session.AddRemoteCandidate(candidate); err != nil {
		l.logger.Debug("discarded ICE candidate", "err", err)
	}
}

// markConnected records the engine reporting a connected transport,
// completing the responder side's AnswerSent -> Connected transition.
func (l *PeerLink) markConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateAnswerSent {
		l.state = StateConnected
		l.logger.Debug("transport connected, link connected")
	}
}

// close shuts the media session and pins the link in Closed. Safe to
// call more than once and from any state.
func (l *PeerLink) close() {
	l.shutdownOnce.Do(func() {
		l.mu.Lock()
		l.state = StateClosed
		l.mu.Unlock()

		if err := l.session.Close(); err != nil {
			l.logger.Debug("error closing media session", "err", err)
		}
		l.logger.Debug("link closed")
	})
}
