package room

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

// Join rejection reasons. These are reported to the caller as values;
// the offending connection stays open and usable.
var (
	ErrInvalidRoomCode = errors.New("invalid room code format, expected two letters followed by five digits (e.g. ME12345)")
	ErrRoomFull        = errors.New("room is full")
	ErrNicknameTooLong = errors.New("nickname is too long")
)

// DefaultCapacity is the maximum number of concurrent participants per
// room unless configured otherwise.
const DefaultCapacity = 5

// Participant is one active connection's membership of a room.
type Participant struct {
	ID       string
	RoomCode string
	Nickname string
	JoinedAt time.Time
}

type room struct {
	code         string
	participants []*Participant
	createdAt    time.Time
	lastActivity time.Time
}

// Registry is the authoritative in-memory state of rooms and membership.
//
// A single mutex serializes every mutation, so capacity checks and
// membership changes are atomic, and the reverse participant index can
// never diverge from room membership. Rooms are created by the first
// join and deleted by the last leave; an empty room is never retrievable.
type Registry struct {
	logger   *slog.Logger
	capacity int

	mu    sync.Mutex
	rooms map[string]*room
	// index maps connection id -> room code, in lock-step with
	// room membership.
	index map[string]string
}

// NewRegistry creates an empty registry. capacity <= 0 selects
// DefaultCapacity. If no logger is given, slog.Default() is used.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:   logger.With(slog.Group("registry")),
		capacity: capacity,
		rooms:    make(map[string]*room),
		index:    make(map[string]string),
	}
}

// Join adds the connection to the room identified by roomCode, creating
// the room if needed, and returns the other current occupants in
// insertion order.
//
// A join with a connection id that is already a member (a reconnect)
// replaces that record in place, preserving its position. Rejections
// (ErrInvalidRoomCode, ErrRoomFull, ErrNicknameTooLong) leave all state
// unchanged.
func (r *Registry) Join(roomCode string, connID string, nickname string) ([]signalling.Occupant, error) {
	roomCode = signalling.NormalizeRoomCode(roomCode)
	if !signalling.ValidRoomCode(roomCode) {
		return nil, ErrInvalidRoomCode
	}
	if !signalling.ValidNickname(nickname) {
		return nil, ErrNicknameTooLong
	}

	participant := &Participant{
		ID:       connID,
		RoomCode: roomCode,
		Nickname: signalling.NormalizeNickname(nickname),
		JoinedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomCode]
	if !ok {
		now := time.Now()
		rm = &room{
			code:      roomCode,
			createdAt: now,
		}
		r.rooms[roomCode] = rm
		r.logger.Debug("room created", "roomCode", roomCode)
	}

	replaced := false
	for i, existing := range rm.participants {
		if existing.ID == connID {
			rm.participants[i] = participant
			replaced = true
			break
		}
	}
	if !replaced {
		if len(rm.participants) >= r.capacity {
			// A room created by this very call has zero members, so it
			// can only be full if it already existed; no cleanup needed.
			return nil, ErrRoomFull
		}
		rm.participants = append(rm.participants, participant)
	}

	rm.lastActivity = time.Now()
	r.index[connID] = roomCode

	others := make([]signalling.Occupant, 0, len(rm.participants)-1)
	for _, p := range rm.participants {
		if p.ID != connID {
			others = append(others, signalling.Occupant{ID: p.ID, Nickname: p.Nickname})
		}
	}
	return others, nil
}

// Leave removes the connection from whatever room it is in, deleting the
// room if it becomes empty. Unknown connection ids are a no-op.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) {
	roomCode, ok := r.index[connID]
	if !ok {
		return
	}
	delete(r.index, connID)

	rm, ok := r.rooms[roomCode]
	if !ok {
		return
	}

	kept := rm.participants[:0]
	for _, p := range rm.participants {
		if p.ID != connID {
			kept = append(kept, p)
		}
	}
	rm.participants = kept

	if len(rm.participants) == 0 {
		delete(r.rooms, roomCode)
		r.logger.Debug("room deleted (empty)", "roomCode", roomCode)
	}
}

// RoomOf returns the room code the connection belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomCode, ok := r.index[connID]
	return roomCode, ok
}

// Size returns the number of participants in the room, 0 if absent.
func (r *Registry) Size(roomCode string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomCode]
	if !ok {
		return 0
	}
	return len(rm.participants)
}

// Occupants returns the room's participants in insertion order,
// excluding exceptID (pass "" to include everyone).
func (r *Registry) Occupants(roomCode string, exceptID string) []signalling.Occupant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomCode]
	if !ok {
		return nil
	}
	occupants := make([]signalling.Occupant, 0, len(rm.participants))
	for _, p := range rm.participants {
		if p.ID != exceptID {
			occupants = append(occupants, signalling.Occupant{ID: p.ID, Nickname: p.Nickname})
		}
	}
	return occupants
}

// Touch refreshes the room's last-activity timestamp, deferring idle
// eviction. Relay traffic counts as activity.
func (r *Registry) Touch(roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomCode]; ok {
		rm.lastActivity = time.Now()
	}
}

// RoomCount returns the number of active rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ParticipantCount returns the number of tracked participants across all
// rooms.
func (r *Registry) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

// SweepInactive evicts every room whose last activity is older than
// threshold, removing its participants from the index as well, and
// returns the number of rooms evicted.
func (r *Registry) SweepInactive(threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	now := time.Now()
	for roomCode, rm := range r.rooms {
		idle := now.Sub(rm.lastActivity)
		if idle <= threshold {
			continue
		}
		for _, p := range rm.participants {
			delete(r.index, p.ID)
		}
		delete(r.rooms, roomCode)
		evicted++
		r.logger.Info(
			"evicted inactive room",
			"roomCode", roomCode,
			"idle", idle,
			"participants", len(rm.participants),
		)
	}
	return evicted
}
