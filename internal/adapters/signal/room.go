package signal

import (
	"errors"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

type channelPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

func (ctl *SignalWSController) handleChannelJoin(cid core.ConnectionID, conn *WsSignalConn, data []byte) {
	var p channelPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.JoinChannel(cid, p.ChannelID); err != nil {
		ctl.reject(conn, cid, "channel.join", err)
		return
	}
	log.Debug().Str("module", "signal").Str("cid", string(cid)).Str("channel", string(p.ChannelID)).Msg("join")
}

func (ctl *SignalWSController) handleChannelLeave(cid core.ConnectionID, conn *WsSignalConn, data []byte) {
	var p channelPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.LeaveChannel(cid, p.ChannelID)
}

func (ctl *SignalWSController) handleTyping(cid core.ConnectionID, conn *WsSignalConn, data []byte, typing bool) {
	var p channelPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.Typing(cid, p.ChannelID, typing); err != nil {
		ctl.reject(conn, cid, "typing", err)
	}
}

// reject answers malformed requests; every other failure stays silent.
func (ctl *SignalWSController) reject(conn *WsSignalConn, cid core.ConnectionID, op string, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg(op + " rejected")
	if errors.Is(err, domain.ErrInvalidPayload) {
		ctl.sendError(conn, errBadPayload)
	}
}
