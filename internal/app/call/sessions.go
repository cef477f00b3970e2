package call

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type session struct {
	// signal serializes join/leave/end fan-out for one call room.
	signal sync.Mutex

	id           domain.CallSessionID
	channelID    domain.ChannelID
	active       bool
	createdBy    domain.UserID
	createdAt    time.Time
	endedAt      *time.Time
	participants map[domain.UserID]*domain.Participant
}

// SessionManager mirrors call session state decided by the persistence
// collaborator. Sessions are never expired; they end only through End.
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[domain.CallSessionID]*session
	byChannel map[domain.ChannelID]domain.CallSessionID
	now       func() time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:  make(map[domain.CallSessionID]*session),
		byChannel: make(map[domain.ChannelID]domain.CallSessionID),
		now:       time.Now,
	}
}

// Start returns the active session of the channel, or creates one with the
// creator as its first participant. id may be empty to get a generated one.
func (m *SessionManager) Start(id domain.CallSessionID, ch domain.ChannelID, creator domain.UserID) (domain.CallSession, bool, error) {
	if ch == "" || creator == "" {
		return domain.CallSession{}, false, fmt.Errorf("start call: %w", domain.ErrInvalidPayload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byChannel[ch]; ok {
		if s := m.sessions[existing]; s != nil && s.active {
			return s.snapshot(), false, nil
		}
	}
	if id == "" {
		id = domain.CallSessionID(uuid.NewString())
	}
	if s, ok := m.sessions[id]; ok {
		return domain.CallSession{}, false, fmt.Errorf("start call: session %s already exists on channel %s", id, s.channelID)
	}

	now := m.now()
	s := &session{
		id:        id,
		channelID: ch,
		active:    true,
		createdBy: creator,
		createdAt: now,
		participants: map[domain.UserID]*domain.Participant{
			creator: {UserID: creator, JoinedAt: now},
		},
	}
	m.sessions[id] = s
	m.byChannel[ch] = id
	log.Info().Str("module", "app.call").Str("session", string(id)).Str("channel", string(ch)).Str("user", string(creator)).Msg("call started")
	return s.snapshot(), true, nil
}

func (m *SessionManager) active(id domain.CallSessionID) (*session, error) {
	s, ok := m.sessions[id]
	if !ok || !s.active {
		return nil, fmt.Errorf("call session %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// RecordJoin upserts an active participant.
func (m *SessionManager) RecordJoin(id domain.CallSessionID, uid domain.UserID) (domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(id)
	if err != nil {
		return domain.Participant{}, err
	}
	p, ok := s.participants[uid]
	if !ok {
		p = &domain.Participant{UserID: uid, JoinedAt: m.now()}
		s.participants[uid] = p
	}
	p.LeftAt = nil
	return *p, nil
}

// RecordLeave stamps leftAt on the user's participant entry.
func (m *SessionManager) RecordLeave(id domain.CallSessionID, uid domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(id)
	if err != nil {
		return err
	}
	p, ok := s.participants[uid]
	if !ok || p.LeftAt != nil {
		return nil
	}
	now := m.now()
	p.LeftAt = &now
	return nil
}

// End marks the session inactive. Ending twice yields domain.ErrNotFound.
func (m *SessionManager) End(id domain.CallSessionID) (domain.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(id)
	if err != nil {
		return domain.CallSession{}, err
	}
	now := m.now()
	s.active = false
	s.endedAt = &now
	for _, p := range s.participants {
		if p.LeftAt == nil {
			p.LeftAt = &now
		}
	}
	if m.byChannel[s.channelID] == id {
		delete(m.byChannel, s.channelID)
	}
	log.Info().Str("module", "app.call").Str("session", string(id)).Msg("call ended")
	return s.snapshot(), nil
}

func (m *SessionManager) Get(id domain.CallSessionID) (domain.CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return s.snapshot(), true
}

// ActiveForChannel returns the channel's running session, if any.
func (m *SessionManager) ActiveForChannel(ch domain.ChannelID) (domain.CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byChannel[ch]
	if !ok {
		return domain.CallSession{}, false
	}
	return m.sessions[id].snapshot(), true
}

// Admits reports whether uid may hold a connection in the session's room.
func (m *SessionManager) Admits(id domain.CallSessionID, uid domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.active(id)
	if err != nil {
		return false
	}
	p, ok := s.participants[uid]
	return ok && p.LeftAt == nil
}

// serialize runs fn holding the session's signaling lock. Unknown sessions
// run fn unlocked: there is nothing left to order against.
func (m *SessionManager) serialize(id domain.CallSessionID, fn func()) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		fn()
		return
	}
	s.signal.Lock()
	defer s.signal.Unlock()
	fn()
}

func (s *session) snapshot() domain.CallSession {
	out := domain.CallSession{
		ID:           s.id,
		ChannelID:    s.channelID,
		Active:       s.active,
		CreatedBy:    s.createdBy,
		CreatedAt:    s.createdAt,
		EndedAt:      s.endedAt,
		Participants: make([]domain.Participant, 0, len(s.participants)),
	}
	for _, p := range s.participants {
		out.Participants = append(out.Participants, *p)
	}
	slices.SortFunc(out.Participants, func(a, b domain.Participant) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return out
}
