package memory

import (
	"sync"

	"github.com/google/uuid"
)

// RoomRepository tracks which calling room each connected user is in. A
// user occupies at most one room: joining another silently leaves the
// previous one.
type RoomRepository interface {
	// Join moves the user into the room, returning the room left behind,
	// if any.
	Join(roomID string, userID uuid.UUID) (previous string)

	// Leave removes the user from their room, returning the room left.
	Leave(userID uuid.UUID) (roomID string, ok bool)

	// Members lists the users in a room, excluding the given user.
	Members(roomID string, except uuid.UUID) []uuid.UUID

	// RoomOf reports the room the user currently occupies.
	RoomOf(userID uuid.UUID) (string, bool)
}

type roomRepository struct {
	mu sync.RWMutex

	// rooms holds map[room_id]set of user ids
	rooms map[string]map[uuid.UUID]struct{}
	// byUser holds map[user_id]room_id
	byUser map[uuid.UUID]string
}

func NewRoomRepository() RoomRepository {
	return &roomRepository{
		rooms:  make(map[string]map[uuid.UUID]struct{}, 10),
		byUser: make(map[uuid.UUID]string, 10),
	}
}

func (r *roomRepository) Join(roomID string, userID uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.byUser[userID]
	if previous == roomID {
		return ""
	}
	if previous != "" {
		r.leaveLocked(previous, userID)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{}, 2)
		r.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	r.byUser[userID] = roomID

	return previous
}

func (r *roomRepository) Leave(userID uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byUser[userID]
	if !ok {
		return "", false
	}

	r.leaveLocked(roomID, userID)
	delete(r.byUser, userID)

	return roomID, true
}

func (r *roomRepository) Members(roomID string, except uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		if id != except {
			out = append(out, id)
		}
	}

	return out
}

func (r *roomRepository) RoomOf(userID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.byUser[userID]
	return roomID, ok
}

func (r *roomRepository) leaveLocked(roomID string, userID uuid.UUID) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}

	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
