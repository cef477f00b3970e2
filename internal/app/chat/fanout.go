// Package chat propagates persisted chat messages and typing indicators to
// the connections watching a channel.
package chat

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Fanout performs no authorization: channel membership is checked by the
// persistence collaborator before a message reaches PublishMessage.
type Fanout struct {
	Registry *app.Registry
	Rooms    core.RoomDirectory
}

func NewFanout(reg *app.Registry, rooms core.RoomDirectory) *Fanout {
	return &Fanout{Registry: reg, Rooms: rooms}
}

func (f *Fanout) JoinChannel(cid core.ConnectionID, ch domain.ChannelID) error {
	if ch == "" {
		return fmt.Errorf("join channel: %w", domain.ErrInvalidPayload)
	}
	if err := f.Registry.JoinRoom(cid, domain.ChannelRoom(ch), f.Rooms); err != nil {
		return err
	}
	log.Debug().Str("module", "app.chat").Str("cid", string(cid)).Str("channel", string(ch)).Msg("joined channel")
	return nil
}

func (f *Fanout) LeaveChannel(cid core.ConnectionID, ch domain.ChannelID) bool {
	left := f.Registry.LeaveRoom(cid, domain.ChannelRoom(ch), f.Rooms)
	if left {
		log.Debug().Str("module", "app.chat").Str("cid", string(cid)).Str("channel", string(ch)).Msg("left channel")
	}
	return left
}

// PublishMessage broadcasts an already persisted message to the whole room,
// the author's own connections included. One call emits exactly one frame
// per member.
func (f *Fanout) PublishMessage(ch domain.ChannelID, message json.RawMessage) (core.PublishResult, error) {
	if ch == "" || !json.Valid(message) {
		return core.PublishResult{}, fmt.Errorf("publish message: %w", domain.ErrInvalidPayload)
	}
	frame, err := core.Encode(core.ChatMessageEvent{
		Type:      core.EventChatMessage,
		ChannelID: ch,
		Message:   message,
	})
	if err != nil {
		return core.PublishResult{}, fmt.Errorf("publish message: %w", err)
	}
	res := f.Rooms.Broadcast(domain.ChannelRoom(ch), frame, "")
	log.Debug().Str("module", "app.chat").Str("channel", string(ch)).Int("sent_to", res.SendTo).Msg("message published")
	return res, nil
}

// PublishTyping is ephemeral and skips the typer's own connection.
func (f *Fanout) PublishTyping(from core.ConnectionID, ch domain.ChannelID, typing bool) error {
	if ch == "" {
		return fmt.Errorf("typing: %w", domain.ErrInvalidPayload)
	}
	ident, err := f.Registry.Lookup(from)
	if err != nil {
		return err
	}
	typ := core.EventChatTypingStopped
	if typing {
		typ = core.EventChatTyping
	}
	frame, err := core.Encode(core.TypingEvent{Type: typ, ChannelID: ch, UserID: ident.UserID})
	if err != nil {
		return err
	}
	f.Rooms.Broadcast(domain.ChannelRoom(ch), frame, from)
	return nil
}
