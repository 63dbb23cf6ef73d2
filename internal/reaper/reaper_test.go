package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmilePineapple/mind-express-video/internal/reaper"
	"github.com/SmilePineapple/mind-express-video/internal/room"
)

func TestRunEvictsIdleRooms(t *testing.T) {
	registry := room.NewRegistry(5, nil)
	_, err := registry.Join("ME12345", "p1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.New(registry, 5*time.Millisecond, time.Millisecond, nil).Run(ctx)

	require.Eventually(t, func() bool {
		return registry.RoomCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := registry.RoomOf("p1")
	require.False(t, ok)
}

func TestRunLeavesActiveRoomsAlone(t *testing.T) {
	registry := room.NewRegistry(5, nil)
	_, err := registry.Join("ME12345", "p1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.New(registry, 5*time.Millisecond, time.Hour, nil).Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, registry.RoomCount())
}
