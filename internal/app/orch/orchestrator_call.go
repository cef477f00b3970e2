package orch

import (
	"encoding/json"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

// JoinCall is silent on a session that is unknown, ended, or that the user
// is not an active participant of.
func (o *Orchestrator) JoinCall(cid core.ConnectionID, sid domain.CallSessionID) error {
	if !o.active(cid) {
		return nil
	}
	return dropped("call.join", cid, o.Calls.JoinCallRoom(cid, sid))
}

func (o *Orchestrator) Signal(cid core.ConnectionID, sid domain.CallSessionID, target core.ConnectionID, payload json.RawMessage) error {
	if !o.active(cid) {
		return nil
	}
	return dropped("call.signal", cid, o.Calls.RelaySignal(cid, sid, target, payload))
}

func (o *Orchestrator) LeaveCall(cid core.ConnectionID, sid domain.CallSessionID) {
	if !o.active(cid) {
		return
	}
	o.Calls.LeaveCallRoom(cid, sid)
}
