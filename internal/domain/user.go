// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

type UserID string

// Identity is the public view of an authenticated user.
// It is what peers see in presence, typing and call rosters.
type Identity struct {
	UserID      UserID `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id UserID, username, displayName, avatarURL string) (Identity, error) {
	id = UserID(strings.TrimSpace(string(id)))
	if id == "" || len(id) > MaxUserIDLen {
		return Identity{}, ErrInvalidIdentity
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = string(id)
	}
	if len(username) > MaxUsernameLen {
		cut := MaxUsernameLen
		for cut > 0 && !utf8.RuneStart(username[cut]) {
			cut--
		}
		username = username[:cut]
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}
	return Identity{
		UserID:      id,
		Username:    username,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	}, nil
}
