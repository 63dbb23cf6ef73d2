package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/SmilePineapple/mind-express-video/internal/mesh"
)

func newTestFactory(t *testing.T) mesh.SessionFactory {
	t.Helper()
	source, err := NewLocalSource(nil)
	require.NoError(t, err)
	t.Cleanup(func() { source.Close() })
	// No ICE servers: negotiation over host candidates only, which is
	// all the offer/answer exchange below needs.
	return NewSessionFactory(webrtc.Configuration{}, source, nil)
}

func TestICEConfiguration(t *testing.T) {
	urls := []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
	config := ICEConfiguration(urls)
	require.Len(t, config.ICEServers, 1)
	require.Equal(t, urls, config.ICEServers[0].URLs)
}

func TestOfferAnswerExchange(t *testing.T) {
	factory := newTestFactory(t)

	caller, err := factory("callee")
	require.NoError(t, err)
	defer caller.Close()
	callee, err := factory("caller")
	require.NoError(t, err)
	defer callee.Close()

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.NotEmpty(t, offer.SDP)

	answer, err := callee.AcceptOffer(offer)
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NotEmpty(t, answer.SDP)

	require.NoError(t, caller.AcceptAnswer(answer))
}

func TestCandidateQueuedUntilRemoteDescription(t *testing.T) {
	factory := newTestFactory(t)

	session, err := factory("remote")
	require.NoError(t, err)
	defer session.Close()

	// Before any remote description the candidate must be queued, not
	// rejected by the engine.
	early := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host"}
	require.NoError(t, session.AddRemoteCandidate(early))

	peer, err := factory("local")
	require.NoError(t, err)
	defer peer.Close()
	offer, err := peer.CreateOffer()
	require.NoError(t, err)

	_, err = session.AcceptOffer(offer)
	require.NoError(t, err)
	require.NoError(t, session.AddRemoteCandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:2 1 udp 2130706431 127.0.0.1 54322 typ host",
	}))
}

func TestSessionCloseIdempotent(t *testing.T) {
	factory := newTestFactory(t)

	session, err := factory("remote")
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
}

func TestLocalSourceToggles(t *testing.T) {
	source, err := NewLocalSource(nil)
	require.NoError(t, err)
	defer source.Close()

	require.False(t, source.Muted())
	source.SetMuted(true)
	require.True(t, source.Muted())
	source.SetMuted(false)
	require.False(t, source.Muted())

	require.False(t, source.VideoOff())
	source.SetVideoOff(true)
	require.True(t, source.VideoOff())
}

func TestLocalSourceTracks(t *testing.T) {
	source, err := NewLocalSource(nil)
	require.NoError(t, err)
	defer source.Close()

	tracks := source.Tracks()
	require.Len(t, tracks, 2)

	require.NoError(t, source.Close())
	require.NoError(t, source.Close())
}

func TestLinearToMulaw(t *testing.T) {
	require.Equal(t, byte(0xFF), linearToMulaw(0))
	// Sign bit distinguishes positive from negative samples.
	require.NotEqual(t, linearToMulaw(1000)&0x80, linearToMulaw(-1000)&0x80)
	// Clipping keeps extreme samples in range without wrapping.
	require.Equal(t, linearToMulaw(32767), linearToMulaw(32700))
}
