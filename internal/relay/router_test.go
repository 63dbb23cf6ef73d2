package relay_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/SmilePineapple/mind-express-video/internal/relay"
	"github.com/SmilePineapple/mind-express-video/internal/room"
	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

const testRoom = "ME12345"

// fakeSender records every delivered envelope per connection and can
// simulate connections that have gone away.
type fakeSender struct {
	mu   sync.Mutex
	gone map[string]bool
	sent map[string][]*signalling.Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		gone: make(map[string]bool),
		sent: make(map[string][]*signalling.Envelope),
	}
}

func (f *fakeSender) SendTo(id string, env *signalling.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[id] {
		return false
	}
	f.sent[id] = append(f.sent[id], env)
	return true
}

func (f *fakeSender) envelopes(id string) []*signalling.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*signalling.Envelope(nil), f.sent[id]...)
}

func (f *fakeSender) lastOfType(id, msgType string) *signalling.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent[id]) - 1; i >= 0; i-- {
		if f.sent[id][i].Type == msgType {
			return f.sent[id][i]
		}
	}
	return nil
}

func (f *fakeSender) countOfType(id, msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, env := range f.sent[id] {
		if env.Type == msgType {
			count++
		}
	}
	return count
}

func newTestRouter() (*relay.Router, *room.Registry, *fakeSender) {
	registry := room.NewRegistry(5, nil)
	sender := newFakeSender()
	return relay.NewRouter(registry, sender, nil), registry, sender
}

func join(router *relay.Router, id, nickname string) {
	router.HandleMessage(id, &signalling.Envelope{
		Type:     signalling.TypeJoinRoom,
		RoomCode: testRoom,
		Nickname: nickname,
	})
}

func TestJoinEmptyRoom(t *testing.T) {
	router, registry, sender := newTestRouter()

	join(router, "p1", "Alice")

	joined := sender.lastOfType("p1", signalling.TypeJoinedRoom)
	require.NotNil(t, joined)
	require.Equal(t, testRoom, joined.RoomCode)
	require.Equal(t, "Alice", joined.Nickname)
	require.Equal(t, 1, joined.RoomSize)

	// The existing-users list is sent even when it is empty.
	existing := sender.lastOfType("p1", signalling.TypeExistingUsers)
	require.NotNil(t, existing)
	require.Empty(t, existing.Occupants)

	require.Equal(t, 1, registry.Size(testRoom))
}

func TestSecondJoinNotifiesExistingOccupant(t *testing.T) {
	router, _, sender := newTestRouter()

	join(router, "p1", "Alice")
	join(router, "p2", "Bob")

	existing := sender.lastOfType("p2", signalling.TypeExistingUsers)
	require.NotNil(t, existing)
	require.Equal(t, []signalling.Occupant{{ID: "p1", Nickname: "Alice"}}, existing.Occupants)

	userJoined := sender.lastOfType("p1", signalling.TypeUserJoined)
	require.NotNil(t, userJoined)
	require.Equal(t, "p2", userJoined.Sender)
	require.Equal(t, "Bob", userJoined.Nickname)

	// p2 never receives a notification about its own join.
	require.Equal(t, 0, sender.countOfType("p2", signalling.TypeUserJoined))
}

func TestJoinInvalidCodeRejectedToSenderOnly(t *testing.T) {
	router, registry, sender := newTestRouter()

	join(router, "p1", "Alice")
	router.HandleMessage("p2", &signalling.Envelope{
		Type:     signalling.TypeJoinRoom,
		RoomCode: "BOGUS",
		Nickname: "Bob",
	})

	errEnv := sender.lastOfType("p2", signalling.TypeError)
	require.NotNil(t, errEnv)
	require.NotEmpty(t, errEnv.Message)
	require.Nil(t, sender.lastOfType("p2", signalling.TypeJoinedRoom))
	require.Equal(t, 0, sender.countOfType("p1", signalling.TypeUserJoined))
	require.Equal(t, 1, registry.ParticipantCount())
}

func TestJoinFullRoomRejected(t *testing.T) {
	router, registry, sender := newTestRouter()

	for i := 1; i <= 5; i++ {
		join(router, fmt.Sprintf("p%d", i), "")
	}
	join(router, "p6", "Frank")

	require.NotNil(t, sender.lastOfType("p6", signalling.TypeError))
	require.Nil(t, sender.lastOfType("p6", signalling.TypeJoinedRoom))
	require.Equal(t, 5, registry.Size(testRoom))
}

func TestOfferRelayedWithSenderStamp(t *testing.T) {
	router, _, sender := newTestRouter()

	join(router, "p1", "Alice")
	join(router, "p2", "Bob")

	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake"}
	router.HandleMessage("p2", &signalling.Envelope{
		Type:   signalling.TypeOffer,
		Target: "p1",
		SDP:    offer,
	})

	relayed := sender.lastOfType("p1", signalling.TypeOffer)
	require.NotNil(t, relayed)
	require.Equal(t, "p2", relayed.Sender)
	require.Equal(t, offer, relayed.SDP)
	require.Equal(t, 0, sender.countOfType("p2", signalling.TypeOffer))
}

func TestCandidateRelayed(t *testing.T) {
	router, _, sender := newTestRouter()

	join(router, "p1", "")
	join(router, "p2", "")

	candidate := &webrtc.ICECandidateInit{Candidate: "candidate:0 1 udp 2130706431 192.0.2.1 50000 typ host"}
	router.HandleMessage("p1", &signalling.Envelope{
		Type:      signalling.TypeICECandidate,
		Target:    "p2",
		Candidate: candidate,
	})

	relayed := sender.lastOfType("p2", signalling.TypeICECandidate)
	require.NotNil(t, relayed)
	require.Equal(t, "p1", relayed.Sender)
	require.Equal(t, candidate, relayed.Candidate)
}

func TestRelayFromOutsideRoomDropped(t *testing.T) {
	router, _, sender := newTestRouter()

	join(router, "p1", "")
	router.HandleMessage("stranger", &signalling.Envelope{
		Type:   signalling.TypeOffer,
		Target: "p1",
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})

	require.Equal(t, 0, sender.countOfType("p1", signalling.TypeOffer))
	require.Empty(t, sender.envelopes("stranger"))
}

func TestRelayToGoneTargetIsSilent(t *testing.T) {
	router, _, sender := newTestRouter()

	join(router, "p1", "")
	join(router, "p2", "")
	sender.gone["p2"] = true

	router.HandleMessage("p1", &signalling.Envelope{
		Type:   signalling.TypeAnswer,
		Target: "p2",
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
	})

	// No error bounces back to the sender; the target's disconnect
	// handling is what informs the room.
	require.Equal(t, 0, sender.countOfType("p1", signalling.TypeError))
}

func TestLeaveBroadcastsUserLeft(t *testing.T) {
	router, registry, sender := newTestRouter()

	join(router, "p1", "")
	join(router, "p2", "")
	join(router, "p3", "")

	router.HandleMessage("p2", &signalling.Envelope{Type: signalling.TypeLeaveRoom})

	for _, id := range []string{"p1", "p3"} {
		left := sender.lastOfType(id, signalling.TypeUserLeft)
		require.NotNil(t, left, "missing user-left for %s", id)
		require.Equal(t, "p2", left.Sender)
	}
	require.Equal(t, 2, registry.Size(testRoom))
	_, ok := registry.RoomOf("p2")
	require.False(t, ok)
}

func TestDisconnectActsAsLeave(t *testing.T) {
	router, registry, sender := newTestRouter()

	join(router, "p1", "")
	join(router, "p2", "")

	router.HandleDisconnect("p2")

	left := sender.lastOfType("p1", signalling.TypeUserLeft)
	require.NotNil(t, left)
	require.Equal(t, "p2", left.Sender)
	require.Equal(t, 1, registry.Size(testRoom))

	// A second disconnect for the same id is a no-op.
	router.HandleDisconnect("p2")
	require.Equal(t, 1, sender.countOfType("p1", signalling.TypeUserLeft))
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	router, registry, _ := newTestRouter()

	join(router, "p1", "")
	router.HandleMessage("p1", &signalling.Envelope{Type: signalling.TypeLeaveRoom})

	require.Equal(t, 0, registry.RoomCount())
	require.Equal(t, 0, registry.ParticipantCount())
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	router, registry, sender := newTestRouter()

	join(router, "p1", "")
	router.HandleMessage("p1", &signalling.Envelope{Type: "ping"})

	require.Equal(t, 1, registry.Size(testRoom))
	require.Equal(t, 0, sender.countOfType("p1", signalling.TypeError))
}
