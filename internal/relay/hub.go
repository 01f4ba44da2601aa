package relay

import (
	"sync"

	"github.com/dialcare/consult/internal/domain"
)

type RoomInfo struct {
	SessionID   domain.SessionID `json:"session_id"`
	MemberCount int              `json:"member_count"`
}

// Hub owns the rooms, one per session id.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.SessionID]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.SessionID]*Room)}
}

func (h *Hub) GetOrCreate(id domain.SessionID) *Room {
	h.mu.RLock()
	room, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok = h.rooms[id]; ok {
		return room
	}
	room = NewRoom(id)
	h.rooms[id] = room
	return room
}

func (h *Hub) Get(id domain.SessionID) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[id]
	return room, ok
}

func (h *Hub) List() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, RoomInfo{SessionID: id, MemberCount: r.MemberCount()})
	}
	return out
}

// StopRoom closes every member connection and removes the room. Called
// when a session reaches a terminal state.
func (h *Hub) StopRoom(id domain.SessionID) {
	h.mu.Lock()
	room, ok := h.rooms[id]
	if ok {
		delete(h.rooms, id)
	}
	h.mu.Unlock()
	if ok {
		room.CloseAll()
	}
}
