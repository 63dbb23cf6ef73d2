package room_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmilePineapple/mind-express-video/internal/room"
	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

const testRoom = "ME12345"

// requireConsistent asserts that the participant index and room
// membership agree: every occupant resolves back to its room.
func requireConsistent(t *testing.T, registry *room.Registry, roomCode string) {
	t.Helper()
	occupants := registry.Occupants(roomCode, "")
	require.Equal(t, registry.Size(roomCode), len(occupants))
	for _, occupant := range occupants {
		code, ok := registry.RoomOf(occupant.ID)
		require.True(t, ok, "occupant %s missing from index", occupant.ID)
		require.Equal(t, roomCode, code)
	}
}

func TestJoinCreatesRoom(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	others, err := registry.Join(testRoom, "p1", "Alice")
	require.NoError(t, err)
	require.Empty(t, others)
	require.Equal(t, 1, registry.Size(testRoom))
	require.Equal(t, 1, registry.RoomCount())

	code, ok := registry.RoomOf("p1")
	require.True(t, ok)
	require.Equal(t, testRoom, code)
	requireConsistent(t, registry, testRoom)
}

func TestJoinNormalizesRoomCode(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(" me12345 ", "p1", "")
	require.NoError(t, err)
	require.Equal(t, 1, registry.Size(testRoom))
}

func TestJoinRejectsInvalidRoomCode(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	for _, code := range []string{"", "ME1234", "ME123456", "M12345E", "1234567", "MEABCDE"} {
		_, err := registry.Join(code, "p1", "")
		require.ErrorIs(t, err, room.ErrInvalidRoomCode, "code %q", code)
	}
	require.Equal(t, 0, registry.RoomCount())
	require.Equal(t, 0, registry.ParticipantCount())
}

func TestJoinReturnsOthersInInsertionOrder(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(testRoom, "p1", "Alice")
	require.NoError(t, err)
	_, err = registry.Join(testRoom, "p2", "Bob")
	require.NoError(t, err)
	others, err := registry.Join(testRoom, "p3", "Carol")
	require.NoError(t, err)

	require.Equal(t, []signalling.Occupant{
		{ID: "p1", Nickname: "Alice"},
		{ID: "p2", Nickname: "Bob"},
	}, others)
}

func TestJoinNicknameRules(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(testRoom, "p1", "")
	require.NoError(t, err)
	others, err := registry.Join(testRoom, "p2", "exactly-twenty-chars")
	require.NoError(t, err)
	require.Equal(t, signalling.DefaultNickname, others[0].Nickname)

	_, err = registry.Join(testRoom, "p3", "this nickname is far too long to accept")
	require.ErrorIs(t, err, room.ErrNicknameTooLong)
	require.Equal(t, 2, registry.Size(testRoom))
}

func TestJoinAtCapacityRejected(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	for i := 1; i <= 5; i++ {
		_, err := registry.Join(testRoom, fmt.Sprintf("p%d", i), "")
		require.NoError(t, err)
	}

	_, err := registry.Join(testRoom, "p6", "")
	require.ErrorIs(t, err, room.ErrRoomFull)
	require.Equal(t, 5, registry.Size(testRoom))

	// Membership is exactly p1..p5, untouched by the rejected join.
	occupants := registry.Occupants(testRoom, "")
	for i, occupant := range occupants {
		require.Equal(t, fmt.Sprintf("p%d", i+1), occupant.ID)
	}
	_, ok := registry.RoomOf("p6")
	require.False(t, ok)
	requireConsistent(t, registry, testRoom)
}

func TestRejoinReplacesInPlace(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(testRoom, "p1", "Alice")
	require.NoError(t, err)
	_, err = registry.Join(testRoom, "p2", "Bob")
	require.NoError(t, err)
	_, err = registry.Join(testRoom, "p3", "Carol")
	require.NoError(t, err)

	// p2 reconnects under a new nickname; position is preserved and the
	// room does not grow.
	_, err = registry.Join(testRoom, "p2", "Bobby")
	require.NoError(t, err)
	require.Equal(t, 3, registry.Size(testRoom))
	require.Equal(t, []signalling.Occupant{
		{ID: "p1", Nickname: "Alice"},
		{ID: "p2", Nickname: "Bobby"},
		{ID: "p3", Nickname: "Carol"},
	}, registry.Occupants(testRoom, ""))
	requireConsistent(t, registry, testRoom)
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(testRoom, "p1", "")
	require.NoError(t, err)
	registry.Leave("p1")

	// Join then leave returns the registry to its pre-join state.
	require.Equal(t, 0, registry.RoomCount())
	require.Equal(t, 0, registry.ParticipantCount())
	require.Equal(t, 0, registry.Size(testRoom))
	_, ok := registry.RoomOf("p1")
	require.False(t, ok)

	// Idempotent for unknown ids.
	registry.Leave("p1")
	registry.Leave("never-joined")
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			registry.Join(testRoom, fmt.Sprintf("p%d", i), "")
		}(i)
	}
	wg.Wait()

	require.Equal(t, 5, registry.Size(testRoom))
	require.Equal(t, 5, registry.ParticipantCount())
	requireConsistent(t, registry, testRoom)
}

func TestSweepInactive(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(testRoom, "p1", "")
	require.NoError(t, err)

	// A generous threshold leaves fresh rooms alone.
	require.Equal(t, 0, registry.SweepInactive(time.Hour))
	require.Equal(t, 1, registry.RoomCount())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, registry.SweepInactive(10*time.Millisecond))
	require.Equal(t, 0, registry.RoomCount())
	_, ok := registry.RoomOf("p1")
	require.False(t, ok, "sweep must clean the participant index too")
}

func TestSweepSkipsRecentlyActive(t *testing.T) {
	registry := room.NewRegistry(5, nil)

	_, err := registry.Join(testRoom, "p1", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	// Relay activity refreshes the eligibility clock.
	registry.Touch(testRoom)
	require.Equal(t, 0, registry.SweepInactive(10*time.Millisecond))
	require.Equal(t, 1, registry.RoomCount())
}
