package core

import "github.com/dkeye/Parley/internal/domain"

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ConnectionID
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

// RoomDirectory is the only way to address a group of connections.
// Every operation is total over absent rooms: leaving or broadcasting to a
// room that does not exist is a no-op. A broker-backed implementation can
// replace the in-memory one behind this interface.
type RoomDirectory interface {
	// Join creates the room if absent. Joining twice has no extra effect.
	Join(room domain.RoomID, cid ConnectionID)
	// Leave reports whether cid was a member. Empty rooms are deleted.
	Leave(room domain.RoomID, cid ConnectionID) bool
	Members(room domain.RoomID) []ConnectionID
	// Broadcast delivers to every member except exclude (empty means none).
	Broadcast(room domain.RoomID, data Frame, exclude ConnectionID) PublishResult
	List() []RoomInfo
}
