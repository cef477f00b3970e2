// Package call relays WebRTC signaling between the connections of a call
// session. Media never passes through it and signal payloads are forwarded
// without being parsed.
package call

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

type Relay struct {
	Registry *app.Registry
	Rooms    core.RoomDirectory
	Sessions *SessionManager
}

func NewRelay(reg *app.Registry, rooms core.RoomDirectory, sessions *SessionManager) *Relay {
	return &Relay{Registry: reg, Rooms: rooms, Sessions: sessions}
}

// JoinCallRoom adds cid to the call room, sends it the existing peers and
// then announces it to them. Both steps run under the session lock, so two
// concurrent joiners learn about each other exactly once. A connection that
// is already in the room only gets the snapshot again.
func (r *Relay) JoinCallRoom(cid core.ConnectionID, sid domain.CallSessionID) error {
	ident, err := r.Registry.Lookup(cid)
	if err != nil {
		return err
	}
	if !r.Sessions.Admits(sid, ident.UserID) {
		return fmt.Errorf("join call %s by %s: %w", sid, ident.UserID, domain.ErrNotFound)
	}

	room := domain.CallRoom(sid)
	r.Sessions.serialize(sid, func() {
		// End or RecordLeave may have won the lock since the check above.
		if !r.Sessions.Admits(sid, ident.UserID) {
			err = fmt.Errorf("join call %s by %s: %w", sid, ident.UserID, domain.ErrNotFound)
			return
		}
		rejoin := r.Registry.InRoom(cid, room)
		if !rejoin {
			if err = r.Registry.JoinRoom(cid, room, r.Rooms); err != nil {
				return
			}
		}

		peers := make([]core.Peer, 0)
		for _, member := range r.Rooms.Members(room) {
			if member == cid {
				continue
			}
			peerIdent, lerr := r.Registry.Lookup(member)
			if lerr != nil {
				// Disconnecting concurrently; its own cleanup will announce the leave.
				continue
			}
			peers = append(peers, core.Peer{ConnectionID: member, Identity: peerIdent})
		}

		snapshot, encErr := core.Encode(core.ExistingPeersEvent{
			Type:      core.EventCallExistingPeers,
			SessionID: sid,
			Peers:     peers,
		})
		if encErr != nil {
			err = encErr
			return
		}
		_ = r.Registry.Send(cid, snapshot)
		if rejoin {
			// Peers already know this connection; only the snapshot is repeated.
			return
		}

		joined, encErr := core.Encode(core.PeerEvent{
			Type:         core.EventCallPeerJoined,
			SessionID:    sid,
			ConnectionID: cid,
			Identity:     &ident,
		})
		if encErr != nil {
			err = encErr
			return
		}
		r.Rooms.Broadcast(room, joined, cid)
		log.Debug().Str("module", "app.call").Str("cid", string(cid)).Str("session", string(sid)).Int("peers", len(peers)).Msg("joined call room")
	})
	return err
}

// RelaySignal forwards an opaque payload. With a target it goes to that one
// connection, otherwise to the whole room minus the sender. Sender and target
// must both be in the call room; anything else is dropped with ErrNotFound.
func (r *Relay) RelaySignal(from core.ConnectionID, sid domain.CallSessionID, target core.ConnectionID, signal json.RawMessage) error {
	if len(signal) == 0 || !json.Valid(signal) {
		return fmt.Errorf("relay signal: %w", domain.ErrInvalidPayload)
	}
	room := domain.CallRoom(sid)
	if !r.Registry.InRoom(from, room) {
		return fmt.Errorf("relay signal: sender %s not in %s: %w", from, room, domain.ErrNotFound)
	}
	frame, err := core.Encode(core.SignalEvent{
		Type:             core.EventCallSignal,
		SessionID:        sid,
		FromConnectionID: from,
		Signal:           signal,
	})
	if err != nil {
		return err
	}

	if target == "" {
		r.Rooms.Broadcast(room, frame, from)
		return nil
	}
	if !r.Registry.InRoom(target, room) {
		return fmt.Errorf("relay signal: target %s not in %s: %w", target, room, domain.ErrNotFound)
	}
	return r.Registry.Send(target, frame)
}

// LeaveCallRoom removes cid from the call room and tells the remaining peers.
func (r *Relay) LeaveCallRoom(cid core.ConnectionID, sid domain.CallSessionID) bool {
	var ident *domain.Identity
	if found, err := r.Registry.Lookup(cid); err == nil {
		ident = &found
	}
	return r.LeaveCallRoomAs(cid, ident, sid)
}

// LeaveCallRoomAs is LeaveCallRoom for a connection that may already be
// unregistered, with the identity captured by the caller.
func (r *Relay) LeaveCallRoomAs(cid core.ConnectionID, ident *domain.Identity, sid domain.CallSessionID) bool {
	var left bool
	r.Sessions.serialize(sid, func() {
		left = r.leaveLocked(cid, ident, sid)
	})
	return left
}

func (r *Relay) leaveLocked(cid core.ConnectionID, ident *domain.Identity, sid domain.CallSessionID) bool {
	room := domain.CallRoom(sid)
	if !r.Registry.LeaveRoom(cid, room, r.Rooms) {
		return false
	}
	frame, err := core.Encode(core.PeerEvent{
		Type:         core.EventCallPeerLeft,
		SessionID:    sid,
		ConnectionID: cid,
		Identity:     ident,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.call").Msg("encode peer left")
		return true
	}
	r.Rooms.Broadcast(room, frame, cid)
	log.Debug().Str("module", "app.call").Str("cid", string(cid)).Str("session", string(sid)).Msg("left call room")
	return true
}

// StartCall mirrors a session start and tells the channel room about it.
func (r *Relay) StartCall(sid domain.CallSessionID, ch domain.ChannelID, creator domain.UserID) (domain.CallSession, bool, error) {
	s, created, err := r.Sessions.Start(sid, ch, creator)
	if err != nil || !created {
		return s, created, err
	}
	if frame, encErr := core.Encode(core.CallStartedEvent{Type: core.EventCallStarted, Session: s}); encErr == nil {
		r.Rooms.Broadcast(domain.ChannelRoom(ch), frame, "")
	}
	return s, true, nil
}

// RecordJoin mirrors a participant joining the durable roster.
func (r *Relay) RecordJoin(sid domain.CallSessionID, uid domain.UserID) (domain.Participant, error) {
	p, err := r.Sessions.RecordJoin(sid, uid)
	if err != nil {
		return p, err
	}
	r.announceParticipant(core.EventCallParticipantJoin, sid, uid)
	return p, nil
}

// RecordLeave mirrors a participant leaving the roster. Every connection of
// that user is taken out of the call room so room membership stays a subset
// of the active participants.
// The roster update and the sweep share the session lock with JoinCallRoom,
// so a join either lands before the sweep or fails its admission check.
func (r *Relay) RecordLeave(sid domain.CallSessionID, uid domain.UserID) error {
	var err error
	room := domain.CallRoom(sid)
	r.Sessions.serialize(sid, func() {
		if err = r.Sessions.RecordLeave(sid, uid); err != nil {
			return
		}
		for _, cid := range r.Registry.ConnectionsForUser(uid) {
			if !r.Registry.InRoom(cid, room) {
				continue
			}
			var ident *domain.Identity
			if found, lerr := r.Registry.Lookup(cid); lerr == nil {
				ident = &found
			}
			r.leaveLocked(cid, ident, sid)
		}
	})
	if err != nil {
		return err
	}
	r.announceParticipant(core.EventCallParticipantLeft, sid, uid)
	return nil
}

func (r *Relay) announceParticipant(typ string, sid domain.CallSessionID, uid domain.UserID) {
	frame, err := core.Encode(core.ParticipantEvent{Type: typ, SessionID: sid, UserID: uid})
	if err != nil {
		return
	}
	r.Rooms.Broadcast(domain.CallRoom(sid), frame, "")
}

// EndSession marks the session inactive, tells the room, then makes every
// member leave. actor is recorded for the log only; authorization already
// happened upstream.
func (r *Relay) EndSession(actor domain.UserID, sid domain.CallSessionID) (domain.CallSession, error) {
	s, err := r.Sessions.End(sid)
	if err != nil {
		return s, err
	}
	room := domain.CallRoom(sid)
	r.Sessions.serialize(sid, func() {
		frame, encErr := core.Encode(core.SessionEndedEvent{Type: core.EventCallSessionEnded, SessionID: sid})
		if encErr == nil {
			r.Rooms.Broadcast(room, frame, "")
		}
		for _, cid := range r.Rooms.Members(room) {
			var ident *domain.Identity
			if found, lerr := r.Registry.Lookup(cid); lerr == nil {
				ident = &found
			}
			r.leaveLocked(cid, ident, sid)
		}
	})
	log.Info().Str("module", "app.call").Str("session", string(sid)).Str("actor", string(actor)).Msg("call session ended")
	return s, nil
}
