// Package media binds the mesh orchestrator's seams to pion/webrtc:
// one PionSession per remote peer, plus the shared local capture
// source. This is the only package that touches the transport engine
// directly.
package media

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/SmilePineapple/mind-express-video/internal/mesh"
)

// ICEConfiguration builds the engine configuration from a list of
// STUN/TURN URLs.
func ICEConfiguration(urls []string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: urls},
		},
	}
}

type remoteStream struct {
	id string
}

func (s remoteStream) ID() string { return s.id }

// PionSession implements mesh.MediaSession over a webrtc.PeerConnection.
//
// Remote candidates arriving before the remote description is applied
// are queued and flushed once it is; the engine rejects them otherwise.
type PionSession struct {
	logger *slog.Logger
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	onLocalCandidate func(webrtc.ICECandidateInit)
	onRemoteTrack    func(mesh.RemoteStream)
	onStateChange    func(webrtc.PeerConnectionState)
}

// NewSessionFactory returns a mesh.SessionFactory producing one
// PionSession per remote peer. Every session shares the local source's
// tracks, so a single capture feeds the whole mesh.
func NewSessionFactory(config webrtc.Configuration, source *LocalSource, logger *slog.Logger) mesh.SessionFactory {
	if logger == nil {
		logger = slog.Default()
	}

	return func(remoteID string) (mesh.MediaSession, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			logger.Error(
				"error while creating new peer connection",
				"err", err,
				"connection config", config,
			)
			return nil, err
		}

		s := &PionSession{
			logger: logger.With("peer", remoteID),
			pc:     pc,
		}

		for _, track := range source.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				s.logger.Error("error while adding local track to peer connection", "err", err)
				pc.Close()
				return nil, err
			}
			go drainRTCP(sender)
		}

		pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
			if candidate == nil {
				return
			}
			s.mu.Lock()
			cb := s.onLocalCandidate
			s.mu.Unlock()
			if cb != nil {
				cb(candidate.ToJSON())
			}
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			s.logger.Debug(
				"received track",
				"track ID", track.ID(),
				"track kind", track.Kind().String(),
			)
			s.mu.Lock()
			cb := s.onRemoteTrack
			s.mu.Unlock()
			if cb != nil {
				cb(remoteStream{id: track.StreamID()})
			}
			go consumeTrack(track)
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			s.logger.Debug("peer connection state change", "new state", state.String())
			s.mu.Lock()
			cb := s.onStateChange
			s.mu.Unlock()
			if cb != nil {
				cb(state)
			}
		})

		return s, nil
	}
}

func (s *PionSession) OnLocalCandidate(cb func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	s.onLocalCandidate = cb
	s.mu.Unlock()
}

func (s *PionSession) OnRemoteTrack(cb func(mesh.RemoteStream)) {
	s.mu.Lock()
	s.onRemoteTrack = cb
	s.mu.Unlock()
}

func (s *PionSession) OnStateChange(cb func(webrtc.PeerConnectionState)) {
	s.mu.Lock()
	s.onStateChange = cb
	s.mu.Unlock()
}

func (s *PionSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Candidates trickle separately via OnLocalCandidate; no need to
	// wait for gathering before sending the offer.
	return offer, nil
}

func (s *PionSession) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	s.flushPending()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (s *PionSession) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	s.flushPending()
	return nil
}

func (s *PionSession) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(candidate)
}

func (s *PionSession) flushPending() {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Debug("error applying queued ICE candidate", "err", err)
		}
	}
}

func (s *PionSession) Close() error {
	return s.pc.Close()
}

// drainRTCP keeps the sender's RTCP path flowing; the reports
// themselves are not used.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// consumeTrack reads and discards inbound packets. The headless client
// renders nothing, but the track must be read for the engine to keep
// receiving.
func consumeTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
