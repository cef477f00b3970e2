package domain

import "strings"

type (
	ChannelID     string
	CallSessionID string
	RoomID        string
)

type RoomKind int

const (
	RoomUnknown RoomKind = iota
	RoomChannel
	RoomCall
)

const (
	channelPrefix = "channel:"
	callPrefix    = "call:"
)

func ChannelRoom(id ChannelID) RoomID { return RoomID(channelPrefix + string(id)) }

func CallRoom(id CallSessionID) RoomID { return RoomID(callPrefix + string(id)) }

func (r RoomID) Kind() RoomKind {
	switch {
	case strings.HasPrefix(string(r), channelPrefix):
		return RoomChannel
	case strings.HasPrefix(string(r), callPrefix):
		return RoomCall
	default:
		return RoomUnknown
	}
}

// Channel returns the channel id of a channel room.
func (r RoomID) Channel() (ChannelID, bool) {
	rest, ok := strings.CutPrefix(string(r), channelPrefix)
	return ChannelID(rest), ok
}

// CallSession returns the session id of a call room.
func (r RoomID) CallSession() (CallSessionID, bool) {
	rest, ok := strings.CutPrefix(string(r), callPrefix)
	return CallSessionID(rest), ok
}
