package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connection is a read-only snapshot of a registered connection.
type Connection struct {
	ID       core.ConnectionID
	Identity domain.Identity
	OpenedAt time.Time
}

type connEntry struct {
	conn   Connection
	signal core.SignalConnection

	// mu serializes room bookkeeping for this connection against unregister.
	mu     sync.Mutex
	rooms  map[domain.RoomID]struct{}
	closed bool
}

// Registry owns live connections and their room sets.
// The map lock only guards registration; room joins and leaves take the
// per-connection lock so unrelated connections never contend.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnectionID]*connEntry
	byUser map[domain.UserID]map[core.ConnectionID]struct{}
	policy Policy
}

func NewRegistry(policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		conns:  make(map[core.ConnectionID]*connEntry),
		byUser: make(map[domain.UserID]map[core.ConnectionID]struct{}),
		policy: policy,
	}
}

var _ core.Sender = (*Registry)(nil)

// Register adds an authenticated connection and returns its fresh id.
func (r *Registry) Register(ident domain.Identity, sig core.SignalConnection) (core.ConnectionID, error) {
	if ident.UserID == "" {
		return "", fmt.Errorf("register: %w", domain.ErrAuthentication)
	}
	if sig == nil {
		return "", errors.New("register: nil signal connection")
	}
	cid := core.NewConnectionID()
	e := &connEntry{
		conn:   Connection{ID: cid, Identity: ident, OpenedAt: time.Now()},
		signal: sig,
		rooms:  make(map[domain.RoomID]struct{}),
	}

	r.mu.Lock()
	r.conns[cid] = e
	set, ok := r.byUser[ident.UserID]
	if !ok {
		set = make(map[core.ConnectionID]struct{})
		r.byUser[ident.UserID] = set
	}
	set[cid] = struct{}{}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(ident.UserID)).Msg("registered connection")
	return cid, nil
}

// Unregister removes the connection and returns the rooms it belonged to.
// The second call for the same id reports ok=false and does nothing.
func (r *Registry) Unregister(cid core.ConnectionID) (Connection, []domain.RoomID, bool) {
	r.mu.Lock()
	e, ok := r.conns[cid]
	if !ok {
		r.mu.Unlock()
		return Connection{}, nil, false
	}
	delete(r.conns, cid)
	uid := e.conn.Identity.UserID
	if set, ok := r.byUser[uid]; ok {
		delete(set, cid)
		if len(set) == 0 {
			delete(r.byUser, uid)
		}
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.closed = true
	rooms := make([]domain.RoomID, 0, len(e.rooms))
	for room := range e.rooms {
		rooms = append(rooms, room)
	}
	e.rooms = make(map[domain.RoomID]struct{})
	e.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Int("rooms", len(rooms)).Msg("unregistered connection")
	return e.conn, rooms, true
}

func (r *Registry) entry(cid core.ConnectionID) (*connEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	return e, ok
}

// Lookup resolves a connection's identity. Unknown ids yield domain.ErrNotFound.
func (r *Registry) Lookup(cid core.ConnectionID) (domain.Identity, error) {
	e, ok := r.entry(cid)
	if !ok {
		return domain.Identity{}, fmt.Errorf("connection %s: %w", cid, domain.ErrNotFound)
	}
	return e.conn.Identity, nil
}

func (r *Registry) Get(cid core.ConnectionID) (Connection, bool) {
	e, ok := r.entry(cid)
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

func (r *Registry) ConnectionsForUser(uid domain.UserID) []core.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[uid]
	out := make([]core.ConnectionID, 0, len(set))
	for cid := range set {
		out = append(out, cid)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomsOf returns the rooms recorded for cid.
func (r *Registry) RoomsOf(cid core.ConnectionID) []domain.RoomID {
	e, ok := r.entry(cid)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.RoomID, 0, len(e.rooms))
	for room := range e.rooms {
		out = append(out, room)
	}
	return out
}

// JoinRoom adds cid to room in dir and records the room on the connection as
// one step. A connection that is unknown or already unregistered gets
// domain.ErrNotFound and is not added to the room.
func (r *Registry) JoinRoom(cid core.ConnectionID, room domain.RoomID, dir core.RoomDirectory) error {
	e, ok := r.entry(cid)
	if !ok {
		return fmt.Errorf("join %s: connection %s: %w", room, cid, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("join %s: connection %s: %w", room, cid, domain.ErrNotFound)
	}
	dir.Join(room, cid)
	e.rooms[room] = struct{}{}
	return nil
}

// LeaveRoom removes cid from room in dir and from the connection's room set.
// It is safe after Unregister: the directory side is still cleaned up.
func (r *Registry) LeaveRoom(cid core.ConnectionID, room domain.RoomID, dir core.RoomDirectory) bool {
	e, ok := r.entry(cid)
	if !ok {
		return dir.Leave(room, cid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rooms, room)
	return dir.Leave(room, cid)
}

// Send queues f on the connection. It never blocks; a full queue is handed
// to the backpressure policy.
func (r *Registry) Send(cid core.ConnectionID, f core.Frame) error {
	e, ok := r.entry(cid)
	if !ok {
		return fmt.Errorf("send: connection %s: %w", cid, domain.ErrNotFound)
	}
	err := e.signal.TrySend(f)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrBackpressure) {
		switch r.policy.OnBackPressure(cid) {
		case KickMember:
			log.Warn().Str("module", "app.registry").Str("cid", string(cid)).Msg("send queue full, kicking connection")
			e.signal.Close()
		case DropFrame, NoAction:
			log.Debug().Str("module", "app.registry").Str("cid", string(cid)).Msg("send queue full, frame dropped")
		}
	}
	return err
}

// BroadcastAll delivers f to every connection whose user is not skip.
func (r *Registry) BroadcastAll(f core.Frame, skip domain.UserID) core.PublishResult {
	r.mu.RLock()
	targets := make([]core.ConnectionID, 0, len(r.conns))
	for cid, e := range r.conns {
		if skip != "" && e.conn.Identity.UserID == skip {
			continue
		}
		targets = append(targets, cid)
	}
	r.mu.RUnlock()

	res := core.PublishResult{}
	for _, cid := range targets {
		if err := r.Send(cid, f); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SendTo++
	}
	return res
}

// CloseAll closes every transport. Cleanup runs through the normal
// disconnect path once each read loop exits.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	sigs := make([]core.SignalConnection, 0, len(r.conns))
	for _, e := range r.conns {
		sigs = append(sigs, e.signal)
	}
	r.mu.RUnlock()
	for _, s := range sigs {
		s.Close()
	}
	log.Info().Str("module", "app.registry").Int("count", len(sigs)).Msg("closed all connections")
	return len(sigs)
}

// InRoom reports whether room is recorded on cid.
func (r *Registry) InRoom(cid core.ConnectionID, room domain.RoomID) bool {
	e, ok := r.entry(cid)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, in := e.rooms[room]
	return in
}
