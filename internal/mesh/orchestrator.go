package mesh

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

// errCallEnded marks negotiation traffic arriving after EndCall. The
// local side is gone, so no new link may be created; a fresh join
// confirmation lifts the guard.
var errCallEnded = errors.New("call already ended")

// RemotePeer is one entry of the orchestrator's public view: a remote
// participant whose media has arrived.
type RemotePeer struct {
	ID       string
	Nickname string
	Stream   RemoteStream
}

// Orchestrator runs the local side of an N-peer mesh: up to N-1
// independent PeerLinks, one per remote participant, negotiated over
// the signalling transport.
//
// Handle* methods are driven by the signalling read loop; engine
// callbacks arrive on the media engine's goroutines. The orchestrator
// mutex guards only the keyed collections; per-link work happens under
// each link's own lock, so two links never serialize against each
// other.
type Orchestrator struct {
	logger    *slog.Logger
	signaller Signaller
	factory   SessionFactory
	local     LocalSource

	mu         sync.Mutex
	links      map[string]*PeerLink
	peers      map[string]*RemotePeer
	roster     map[string]string // remote id -> nickname, as announced
	callActive bool
	waiting    bool
	ended      bool
}

func NewOrchestrator(signaller Signaller, factory SessionFactory, local LocalSource, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:    logger.With(slog.Group("mesh")),
		signaller: signaller,
		factory:   factory,
		local:     local,
		links:     make(map[string]*PeerLink),
		peers:     make(map[string]*RemotePeer),
		roster:    make(map[string]string),
	}
}

// HandleJoined records the join confirmation. A room size of one means
// nobody else is here yet and the call is in its waiting state.
func (o *Orchestrator) HandleJoined(roomCode string, roomSize int) {
	o.mu.Lock()
	o.waiting = roomSize == 1
	o.ended = false
	o.mu.Unlock()
	o.logger.Info("joined room", "roomCode", roomCode, "roomSize", roomSize)
}

// HandleExistingUsers initiates toward every occupant present before
// us. The occupants we discover here are exactly the pairs where we are
// the later joiner, so we offer; everyone arriving after us will offer
// to us instead.
func (o *Orchestrator) HandleExistingUsers(occupants []signalling.Occupant) {
	for _, occupant := range occupants {
		o.mu.Lock()
		o.roster[occupant.ID] = occupant.Nickname
		o.mu.Unlock()

		link, err := o.createLink(occupant.ID, occupant.Nickname, RoleInitiator)
		if err != nil {
			if errors.Is(err, errCallEnded) {
				o.logger.Debug("occupant list after call ended, dropped", "peer", occupant.ID)
				return
			}
			o.logger.Error("error creating link to existing occupant", "peer", occupant.ID, "err", err)
			continue
		}
		if err := link.sendOffer(o.signaller); err != nil {
			o.logger.Error("error sending offer", "peer", occupant.ID, "err", err)
			o.teardown(occupant.ID)
		}
	}
}

// HandleUserJoined records a newcomer. No link is created here: the
// newcomer received us in its existing-users list and will send the
// offer. Initiating from both ends is what this asymmetry rules out.
func (o *Orchestrator) HandleUserJoined(id string, nickname string) {
	o.mu.Lock()
	o.roster[id] = nickname
	o.mu.Unlock()
	o.logger.Info("occupant joined, waiting for their offer", "peer", id, "nickname", nickname)
}

// HandleOffer responds to a remote offer, creating the responder-side
// link if this is the first contact with that peer.
func (o *Orchestrator) HandleOffer(senderID string, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	link := o.links[senderID]
	nickname, known := o.roster[senderID]
	o.mu.Unlock()
	if !known {
		nickname = signalling.DefaultNickname
	}

	if link == nil {
		var err error
		link, err = o.createLink(senderID, nickname, RoleResponder)
		if err != nil {
			if errors.Is(err, errCallEnded) {
				o.logger.Debug("offer after call ended, dropped", "peer", senderID)
				return
			}
			o.logger.Error("error creating link for remote offer", "peer", senderID, "err", err)
			return
		}
	}

	if err := link.acceptOffer(sdp, o.signaller); err != nil {
		o.logger.Error("error answering offer", "peer", senderID, "err", err)
	}
}

// HandleAnswer completes our outstanding offer toward the sender. An
// answer for an unknown link, or one arriving in any state other than
// offer-sent, is discarded with state unchanged.
func (o *Orchestrator) HandleAnswer(senderID string, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	link := o.links[senderID]
	o.mu.Unlock()
	if link == nil {
		o.logger.Debug("answer from unknown peer, dropped", "peer", senderID)
		return
	}

	if err := link.acceptAnswer(sdp); err != nil {
		if errors.Is(err, errStaleAnswer) {
			o.logger.Debug("stale answer discarded", "peer", senderID, "state", link.State().String())
			return
		}
		o.logger.Error("error applying answer", "peer", senderID, "err", err)
	}
}

// HandleCandidate feeds a relayed ICE candidate to the matching link.
// Candidates for peers already torn down are dropped without error.
func (o *Orchestrator) HandleCandidate(senderID string, candidate webrtc.ICECandidateInit) {
	o.mu.Lock()
	link := o.links[senderID]
	o.mu.Unlock()
	if link == nil {
		return
	}
	link.addCandidate(candidate)
}

// HandleUserLeft tears down the departed participant's link and removes
// it from the remote peers view.
func (o *Orchestrator) HandleUserLeft(id string) {
	o.logger.Info("occupant left", "peer", id)
	o.mu.Lock()
	delete(o.roster, id)
	o.mu.Unlock()
	o.teardown(id)
}

// EndCall closes every link, releases local capture, announces the
// departure and resets the orchestrator to its initial empty state.
// Callable at any time; repeated calls are no-ops.
func (o *Orchestrator) EndCall() {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	o.ended = true
	closing := make([]*PeerLink, 0, len(o.links))
	for _, link := range o.links {
		closing = append(closing, link)
	}
	o.links = make(map[string]*PeerLink)
	o.peers = make(map[string]*RemotePeer)
	o.roster = make(map[string]string)
	o.callActive = false
	o.waiting = false
	o.mu.Unlock()

	for _, link := range closing {
		link.close()
	}
	if err := o.local.Close(); err != nil {
		o.logger.Debug("error closing local source", "err", err)
	}
	if err := o.signaller.Leave(); err != nil {
		o.logger.Debug("error sending leave", "err", err)
	}
	o.logger.Info("call ended")
}

// ToggleMute flips the shared local audio source and returns the new
// muted state. Takes effect for every link immediately, independent of
// negotiation state.
func (o *Orchestrator) ToggleMute() bool {
	o.local.SetMuted(!o.local.Muted())
	return o.local.Muted()
}

// ToggleVideo flips the shared local video source and returns the new
// video-off state.
func (o *Orchestrator) ToggleVideo() bool {
	o.local.SetVideoOff(!o.local.VideoOff())
	return o.local.VideoOff()
}

// RemotePeers returns a stable snapshot of the remote peers whose media
// has arrived, ordered by identifier.
func (o *Orchestrator) RemotePeers() []RemotePeer {
	o.mu.Lock()
	defer o.mu.Unlock()

	peers := make([]RemotePeer, 0, len(o.peers))
	for _, p := range o.peers {
		peers = append(peers, *p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// CallActive reports whether at least one remote peer's media has
// arrived.
func (o *Orchestrator) CallActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callActive
}

// Waiting reports whether we are alone in the room.
func (o *Orchestrator) Waiting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiting
}

func (o *Orchestrator) createLink(id string, nickname string, role Role) (*PeerLink, error) {
	o.mu.Lock()
	ended := o.ended
	o.mu.Unlock()
	if ended {
		return nil, errCallEnded
	}

	session, err := o.factory(id)
	if err != nil {
		return nil, err
	}
	link := newPeerLink(id, nickname, role, session, o.logger)

	session.OnLocalCandidate(func(candidate webrtc.ICECandidateInit) {
		if err := o.signaller.SendCandidate(id, candidate); err != nil {
			o.logger.Debug("error sending ICE candidate", "peer", id, "err", err)
		}
	})
	session.OnRemoteTrack(func(stream RemoteStream) {
		o.handleRemoteTrack(id, nickname, stream)
	})
	session.OnStateChange(func(state webrtc.PeerConnectionState) {
		o.handleStateChange(id, link, state)
	})

	o.mu.Lock()
	if o.ended {
		// EndCall ran while the session was being set up; it will not
		// see this link, so close it here instead of registering it.
		o.mu.Unlock()
		link.close()
		return nil, errCallEnded
	}
	o.links[id] = link
	o.mu.Unlock()
	return link, nil
}

// handleRemoteTrack attaches arriving media to the remote peers view,
// replacing in place when the peer is already known.
func (o *Orchestrator) handleRemoteTrack(id string, nickname string, stream RemoteStream) {
	o.mu.Lock()
	if current, ok := o.roster[id]; ok && current != "" {
		nickname = current
	}
	o.peers[id] = &RemotePeer{ID: id, Nickname: nickname, Stream: stream}
	o.callActive = true
	o.waiting = false
	o.mu.Unlock()
	o.logger.Info("remote media arrived", "peer", id, "stream", stream.ID())
}

// handleStateChange reacts to the engine's aggregate transport status:
// connected completes the responder transition, failure or disconnect
// is treated as a departure of that peer only.
func (o *Orchestrator) handleStateChange(id string, link *PeerLink, state webrtc.PeerConnectionState) {
	o.logger.Debug("transport state change", "peer", id, "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		link.markConnected()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		o.logger.Info("transport lost, tearing down peer", "peer", id, "state", state.String())
		o.teardown(id)
	}
}

// teardown removes one peer's link and view entry and closes its media
// session. Safe when the peer is already gone.
func (o *Orchestrator) teardown(id string) {
	o.mu.Lock()
	link := o.links[id]
	delete(o.links, id)
	delete(o.peers, id)
	if len(o.peers) == 0 {
		o.callActive = false
	}
	o.mu.Unlock()

	if link != nil {
		link.close()
	}
}
