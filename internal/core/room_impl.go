package core

import (
	"sync"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Room is a threadsafe in-memory member set.
// It never closes adapter-owned resources. Once the last member leaves the
// room is retired and refuses further joins; the directory then replaces it.
type Room struct {
	id      domain.RoomID
	mu      sync.RWMutex
	members map[ConnectionID]struct{}
	retired bool
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:      id,
		members: make(map[ConnectionID]struct{}),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Add returns false when the room was already retired.
func (r *Room) Add(cid ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.members[cid] = struct{}{}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("cid", string(cid)).Msg("member added")
	return true
}

// Remove reports whether cid was a member and whether the room is now retired.
func (r *Room) Remove(cid ConnectionID) (removed, retired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[cid]; ok {
		delete(r.members, cid)
		removed = true
		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("cid", string(cid)).Msg("member removed")
	}
	if len(r.members) == 0 {
		r.retired = true
	}
	return removed, r.retired
}

func (r *Room) Members() []ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnectionID, 0, len(r.members))
	for cid := range r.members {
		out = append(out, cid)
	}
	return out
}

// Broadcast sends while holding the read lock so a concurrent join or leave
// lands entirely before or after this delivery. Sender must not block.
func (r *Room) Broadcast(exclude ConnectionID, data Frame, s Sender) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for cid := range r.members {
		if cid == exclude {
			continue
		}
		if err := s.Send(cid, data); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
