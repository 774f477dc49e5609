package relay

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrRoomNotFound indicates an operation referenced an unknown room.
// Room-scoped errors reply on the wire; they never close connections.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomExists indicates a CREATE for an id that is already taken.
var ErrRoomExists = errors.New("room already exists")

// room is one live voice session. The salt is fixed at creation; all
// members derive the same key from (password, salt) on their side, so
// the key itself never crosses the relay.
type room struct {
	id      string
	creator string
	salt    []byte
	members map[string]struct{}
}

func (rm *room) memberList() []string {
	out := make([]string, 0, len(rm.members))
	for m := range rm.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// RoomManager tracks voice rooms and their membership. It is owned by
// a Server instance and guarded by its own mutex, separate from the
// identity registry.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewRoomManager creates an empty room table.
func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[string]*room)}
}

// Create makes a new room with the creator as sole member.
func (m *RoomManager) Create(roomID, creator string, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.rooms[roomID]; taken {
		return ErrRoomExists
	}
	m.rooms[roomID] = &room{
		id:      roomID,
		creator: creator,
		salt:    salt,
		members: map[string]struct{}{creator: {}},
	}
	return nil
}

// Join adds a member and returns the room salt and the resulting
// member list (sorted), so the joiner can derive the key and see who
// is present.
func (m *RoomManager) Join(roomID, identity string) (salt []byte, members []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.rooms[roomID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	rm.members[identity] = struct{}{}
	return rm.salt, rm.memberList(), nil
}

// Leave removes a member. The room is destroyed when its member set
// becomes empty; destroyed reports that, and remaining lists the
// survivors to notify otherwise.
func (m *RoomManager) Leave(roomID, identity string) (destroyed bool, remaining []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.rooms[roomID]
	if !ok {
		return false, nil, ErrRoomNotFound
	}
	delete(rm.members, identity)
	if len(rm.members) == 0 {
		delete(m.rooms, roomID)
		return true, nil, nil
	}
	return false, rm.memberList(), nil
}

// Exists reports whether a room id is live.
func (m *RoomManager) Exists(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok
}

// MembersExcept returns the members of a room other than exclude, or
// ErrRoomNotFound. Used for fan-out; sends happen outside the lock.
func (m *RoomManager) MembersExcept(roomID, exclude string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	out := make([]string, 0, len(rm.members))
	for id := range rm.members {
		if id != exclude {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsMember reports whether identity belongs to the room.
func (m *RoomManager) IsMember(roomID, identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	_, in := rm.members[identity]
	return in
}

// RoomDeparture describes one room a disconnecting member was removed
// from.
type RoomDeparture struct {
	RoomID    string
	Destroyed bool
	Remaining []string
}

// RemoveFromAll removes an identity from every room it belongs to,
// destroying rooms that empty out. Invoked on disconnect.
func (m *RoomManager) RemoveFromAll(identity string) []RoomDeparture {
	m.mu.Lock()
	defer m.mu.Unlock()

	var departures []RoomDeparture
	for id, rm := range m.rooms {
		if _, in := rm.members[identity]; !in {
			continue
		}
		delete(rm.members, identity)
		d := RoomDeparture{RoomID: id}
		if len(rm.members) == 0 {
			delete(m.rooms, id)
			d.Destroyed = true
		} else {
			d.Remaining = rm.memberList()
		}
		departures = append(departures, d)
	}
	return departures
}

// Summary renders the "id:memberCount" listing for ROOM|LIST replies,
// sorted by room id.
func (m *RoomManager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]string, 0, len(m.rooms))
	for id, rm := range m.rooms {
		entries = append(entries, fmt.Sprintf("%s:%d", id, len(rm.members)))
	}
	sort.Strings(entries)
	return strings.Join(entries, ",")
}

// Count returns the number of live rooms.
func (m *RoomManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
