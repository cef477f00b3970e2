package core

import (
	"encoding/json"

	"github.com/dkeye/Parley/internal/domain"
)

// Outbound event types (core -> client).
const (
	EventSessionReady        = "session.ready"
	EventPresenceOnline      = "presence.online"
	EventPresenceOffline     = "presence.offline"
	EventChatMessage         = "chat.message"
	EventChatTyping          = "chat.typing"
	EventChatTypingStopped   = "chat.typingStopped"
	EventCallExistingPeers   = "call.existingPeers"
	EventCallPeerJoined      = "call.peerJoined"
	EventCallPeerLeft        = "call.peerLeft"
	EventCallSignal          = "call.signal"
	EventCallSessionEnded    = "call.sessionEnded"
	EventCallStarted         = "call.started"
	EventCallParticipantJoin = "call.participantJoined"
	EventCallParticipantLeft = "call.participantLeft"
	EventPong                = "pong"
	EventError               = "error"
)

type SessionReadyEvent struct {
	Type         string          `json:"type"`
	ConnectionID ConnectionID    `json:"connectionId"`
	User         domain.Identity `json:"user"`
	Online       []domain.UserID `json:"online"`
}

type PresenceEvent struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type ChatMessageEvent struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId"`
	Message   json.RawMessage  `json:"message"`
}

type TypingEvent struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId"`
	UserID    domain.UserID    `json:"userId"`
}

// Peer is one call participant connection as seen by the others.
type Peer struct {
	ConnectionID ConnectionID    `json:"connectionId"`
	Identity     domain.Identity `json:"identity"`
}

type ExistingPeersEvent struct {
	Type      string               `json:"type"`
	SessionID domain.CallSessionID `json:"sessionId"`
	Peers     []Peer               `json:"peers"`
}

type PeerEvent struct {
	Type         string               `json:"type"`
	SessionID    domain.CallSessionID `json:"sessionId"`
	ConnectionID ConnectionID         `json:"connectionId"`
	Identity     *domain.Identity     `json:"identity,omitempty"`
}

type SignalEvent struct {
	Type             string               `json:"type"`
	SessionID        domain.CallSessionID `json:"sessionId"`
	FromConnectionID ConnectionID         `json:"fromConnectionId"`
	Signal           json.RawMessage      `json:"signal"`
}

type SessionEndedEvent struct {
	Type      string               `json:"type"`
	SessionID domain.CallSessionID `json:"sessionId"`
}

type CallStartedEvent struct {
	Type    string             `json:"type"`
	Session domain.CallSession `json:"session"`
}

type ParticipantEvent struct {
	Type      string               `json:"type"`
	SessionID domain.CallSessionID `json:"sessionId"`
	UserID    domain.UserID        `json:"userId"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
