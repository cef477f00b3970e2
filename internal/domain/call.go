package domain

import "time"

// Participant is one user's presence on a call roster.
// LeftAt is nil while the user is in the call.
type Participant struct {
	UserID   UserID     `json:"userId"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt"`
}

func (p Participant) Active() bool { return p.LeftAt == nil }

// CallSession mirrors the session state owned by the persistence collaborator.
type CallSession struct {
	ID           CallSessionID `json:"id"`
	ChannelID    ChannelID     `json:"channelId"`
	Active       bool          `json:"active"`
	CreatedBy    UserID        `json:"createdById"`
	CreatedAt    time.Time     `json:"createdAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	Participants []Participant `json:"participants"`
}
