package app

import (
	"hash/maphash"
	"slices"
	"sync"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

const presenceShards = 32

// Broadcaster reaches every connected user except one.
type Broadcaster interface {
	BroadcastAll(f core.Frame, skip domain.UserID) core.PublishResult
}

type presenceShard struct {
	mu     sync.Mutex
	counts map[domain.UserID]int
}

// Presence counts open connections per user and announces 0->1 and 1->0
// transitions server-wide. Users are striped over independent locks and a
// delta is emitted while holding only that user's stripe.
type Presence struct {
	seed   maphash.Seed
	shards [presenceShards]presenceShard
	out    Broadcaster
}

func NewPresence(out Broadcaster) *Presence {
	p := &Presence{seed: maphash.MakeSeed(), out: out}
	for i := range p.shards {
		p.shards[i].counts = make(map[domain.UserID]int)
	}
	return p
}

func (p *Presence) shard(uid domain.UserID) *presenceShard {
	return &p.shards[maphash.String(p.seed, string(uid))%presenceShards]
}

// OnConnectionOpened reports whether the user just came online.
func (p *Presence) OnConnectionOpened(uid domain.UserID) bool {
	s := p.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[uid]++
	online := s.counts[uid] == 1
	if online {
		log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("user online")
		p.emit(core.EventPresenceOnline, uid)
	}
	return online
}

// OnConnectionClosed reports whether the user just went offline.
// Closing a user with no open connections is ignored.
func (p *Presence) OnConnectionClosed(uid domain.UserID) bool {
	s := p.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[uid]
	if !ok || n <= 0 {
		log.Warn().Str("module", "app.presence").Str("user", string(uid)).Msg("close without open connection ignored")
		return false
	}
	if n > 1 {
		s.counts[uid] = n - 1
		return false
	}
	delete(s.counts, uid)
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("user offline")
	p.emit(core.EventPresenceOffline, uid)
	return true
}

func (p *Presence) emit(typ string, uid domain.UserID) {
	if p.out == nil {
		return
	}
	f, err := core.Encode(core.PresenceEvent{Type: typ, UserID: uid})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence")
		return
	}
	p.out.BroadcastAll(f, uid)
}

// Snapshot returns online users in a stable order.
func (p *Presence) Snapshot() []domain.UserID {
	var out []domain.UserID
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		for uid := range s.counts {
			out = append(out, uid)
		}
		s.mu.Unlock()
	}
	if out == nil {
		out = []domain.UserID{}
	}
	slices.Sort(out)
	return out
}

func (p *Presence) IsOnline(uid domain.UserID) bool {
	s := p.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[uid] > 0
}

func (p *Presence) OnlineCount() int {
	n := 0
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		n += len(s.counts)
		s.mu.Unlock()
	}
	return n
}
