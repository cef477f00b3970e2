// Package orch routes connection lifecycle and inbound client events to the
// chat and call services. It owns the single disconnect cleanup path.
package orch

import (
	"errors"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/app/call"
	"github.com/dkeye/Parley/internal/app/chat"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomDirectory
	Presence *app.Presence
	Chat     *chat.Fanout
	Calls    *call.Relay
}

// New wires the services around one registry and one room directory.
func New(policy app.Policy) *Orchestrator {
	reg := app.NewRegistry(policy)
	rooms := app.NewRoomManager(reg)
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Presence: app.NewPresence(reg),
		Chat:     chat.NewFanout(reg, rooms),
		Calls:    call.NewRelay(reg, rooms, call.NewSessionManager()),
	}
}

// Connect registers an authenticated connection, marks its user online and
// sends it the session.ready snapshot.
func (o *Orchestrator) Connect(ident domain.Identity, sig core.SignalConnection) (core.ConnectionID, error) {
	cid, err := o.Registry.Register(ident, sig)
	if err != nil {
		return "", err
	}
	o.Presence.OnConnectionOpened(ident.UserID)

	ready, err := core.Encode(core.SessionReadyEvent{
		Type:         core.EventSessionReady,
		ConnectionID: cid,
		User:         ident,
		Online:       o.Presence.Snapshot(),
	})
	if err == nil {
		_ = o.Registry.Send(cid, ready)
	}
	return cid, nil
}

// Disconnect runs on every transport close, graceful or not. A second call
// for the same connection finds nothing to unregister and returns.
func (o *Orchestrator) Disconnect(cid core.ConnectionID) {
	conn, rooms, ok := o.Registry.Unregister(cid)
	if !ok {
		return
	}
	for _, room := range rooms {
		switch room.Kind() {
		case domain.RoomChannel:
			ch, _ := room.Channel()
			o.Chat.LeaveChannel(cid, ch)
		case domain.RoomCall:
			sid, _ := room.CallSession()
			o.Calls.LeaveCallRoomAs(cid, &conn.Identity, sid)
		default:
			o.Rooms.Leave(room, cid)
		}
	}
	o.Presence.OnConnectionClosed(conn.Identity.UserID)
	log.Info().Str("module", "orch").Str("cid", string(cid)).Str("user", string(conn.Identity.UserID)).Int("rooms", len(rooms)).Msg("connection cleaned up")
}

// Shutdown closes every transport; each read loop then runs Disconnect.
func (o *Orchestrator) Shutdown() int {
	return o.Registry.CloseAll()
}

// active resolves the sender of an inbound event. Events from a connection
// that is being torn down are dropped.
func (o *Orchestrator) active(cid core.ConnectionID) bool {
	if _, err := o.Registry.Lookup(cid); err != nil {
		log.Debug().Str("module", "orch").Str("cid", string(cid)).Msg("event from unknown connection dropped")
		return false
	}
	return true
}

// dropped logs an error that is recovered locally by discarding the event.
func dropped(op string, cid core.ConnectionID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Str("module", "orch").Str("cid", string(cid)).Err(err).Msg(op + " dropped")
		return nil
	}
	return err
}
