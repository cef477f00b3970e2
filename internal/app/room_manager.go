package app

import (
	"sync"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the in-memory core.RoomDirectory.
// The map lock is held only to find, create or drop a room; membership and
// fan-out are serialized per room.
type RoomManagerImpl struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*core.Room
	sender core.Sender
}

func NewRoomManager(sender core.Sender) *RoomManagerImpl {
	return &RoomManagerImpl{
		rooms:  make(map[domain.RoomID]*core.Room),
		sender: sender,
	}
}

var _ core.RoomDirectory = (*RoomManagerImpl)(nil)

func (f *RoomManagerImpl) get(id domain.RoomID) (*core.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) getOrCreate(id domain.RoomID) *core.Room {
	if room, ok := f.get(id); ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[id]; ok {
		return room
	}
	room := core.NewRoom(id)
	f.rooms[id] = room
	log.Debug().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

// drop removes room from the map unless it was already replaced.
func (f *RoomManagerImpl) drop(id domain.RoomID, room *core.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rooms[id]; ok && cur == room {
		delete(f.rooms, id)
		log.Debug().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	}
}

func (f *RoomManagerImpl) Join(id domain.RoomID, cid core.ConnectionID) {
	for {
		room := f.getOrCreate(id)
		if room.Add(cid) {
			return
		}
		// Lost the race with the last leave; retire and retry on a fresh room.
		f.drop(id, room)
	}
}

func (f *RoomManagerImpl) Leave(id domain.RoomID, cid core.ConnectionID) bool {
	room, ok := f.get(id)
	if !ok {
		return false
	}
	removed, retired := room.Remove(cid)
	if retired {
		f.drop(id, room)
	}
	return removed
}

func (f *RoomManagerImpl) Members(id domain.RoomID) []core.ConnectionID {
	room, ok := f.get(id)
	if !ok {
		return []core.ConnectionID{}
	}
	return room.Members()
}

func (f *RoomManagerImpl) Broadcast(id domain.RoomID, data core.Frame, exclude core.ConnectionID) core.PublishResult {
	room, ok := f.get(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.Broadcast(exclude, data, f.sender)
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}
