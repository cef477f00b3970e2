package core

import (
	"errors"

	"github.com/google/uuid"
)

// Frame is a raw encoded payload queued for one connection.
type Frame []byte

// ConnectionID identifies one duplex transport session.
// A user may hold several at once, so it is never a domain.UserID.
type ConnectionID string

func NewConnectionID() ConnectionID { return ConnectionID(uuid.NewString()) }

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Sender delivers a frame to a connection by id.
type Sender interface {
	Send(cid ConnectionID, f Frame) error
}
