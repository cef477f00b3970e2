package signal

import (
	"encoding/json"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type callPayload struct {
	SessionID domain.CallSessionID `json:"sessionId"`
}

type callSignalPayload struct {
	SessionID          domain.CallSessionID `json:"sessionId"`
	TargetConnectionID core.ConnectionID    `json:"targetConnectionId,omitempty"`
	Signal             json.RawMessage      `json:"signal"`
}

func (ctl *SignalWSController) handleCallJoin(cid core.ConnectionID, conn *WsSignalConn, data []byte) {
	var p callPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if p.SessionID == "" {
		ctl.sendError(conn, errBadPayload)
		return
	}
	if err := ctl.Orch.JoinCall(cid, p.SessionID); err != nil {
		ctl.reject(conn, cid, "call.join", err)
	}
}

// handleCallSignal passes the signal payload through untouched.
func (ctl *SignalWSController) handleCallSignal(cid core.ConnectionID, conn *WsSignalConn, data []byte) {
	var p callSignalPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if p.SessionID == "" {
		ctl.sendError(conn, errBadPayload)
		return
	}
	if err := ctl.Orch.Signal(cid, p.SessionID, p.TargetConnectionID, p.Signal); err != nil {
		ctl.reject(conn, cid, "call.signal", err)
	}
}

func (ctl *SignalWSController) handleCallLeave(cid core.ConnectionID, conn *WsSignalConn, data []byte) {
	var p callPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.LeaveCall(cid, p.SessionID)
}
