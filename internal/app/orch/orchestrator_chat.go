package orch

import (
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

func (o *Orchestrator) JoinChannel(cid core.ConnectionID, ch domain.ChannelID) error {
	if !o.active(cid) {
		return nil
	}
	return dropped("channel.join", cid, o.Chat.JoinChannel(cid, ch))
}

func (o *Orchestrator) LeaveChannel(cid core.ConnectionID, ch domain.ChannelID) {
	if !o.active(cid) {
		return
	}
	o.Chat.LeaveChannel(cid, ch)
}

func (o *Orchestrator) Typing(cid core.ConnectionID, ch domain.ChannelID, typing bool) error {
	if !o.active(cid) {
		return nil
	}
	return dropped("typing", cid, o.Chat.PublishTyping(cid, ch, typing))
}
