package domain

import "errors"

var (
	// ErrAuthentication rejects a connection at handshake.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound marks a stale reference to a connection, room or session.
	ErrNotFound = errors.New("not found")
	// ErrAuthorization is produced by the persistence collaborator, never by the relay.
	ErrAuthorization = errors.New("not authorized")

	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidIdentity = errors.New("invalid identity")
)
