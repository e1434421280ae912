package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrEnded        = errors.New("session ended")
	ErrNotLoggedIn  = errors.New("session has no logged-in person")
	ErrTurnInFlight = errors.New("a chat turn is already streaming")
)

type Session struct {
	ID                string    `json:"session_id"`
	PersonID          string    `json:"person_id,omitempty"`
	PersonName        string    `json:"person_name,omitempty"`
	Status            Status    `json:"status"`
	ActiveTurnID      string    `json:"active_turn_id"`
	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	Transcript        []Entry   `json:"transcript"`
}

// LoggedIn reports whether a person is attached to the session.
func (s *Session) LoggedIn() bool { return s.PersonID != "" }

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

// InactivityTimeout is the idle period after which sessions expire.
func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(personID, personName string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		PersonID:       personID,
		PersonName:     personName,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// active returns the live session or an error. Callers hold m.mu.
func (m *Manager) active(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrEnded
	}
	return s, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Login(sessionID, personID, personName string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(sessionID)
	if err != nil {
		return nil, err
	}
	s.PersonID = personID
	s.PersonName = personName
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) Logout(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(sessionID)
	if err != nil {
		return nil, err
	}
	s.PersonID = ""
	s.PersonName = ""
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// Append adds entries to the transcript, assigning ids and timestamps.
func (m *Manager) Append(sessionID string, entries ...Entry) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.Transcript = append(s.Transcript, e)
		out = append(out, e)
	}
	s.LastActivityAt = now
	return out, nil
}

// ResetTranscript clears the transcript for a new conversation.
func (m *Manager) ResetTranscript(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(sessionID)
	if err != nil {
		return err
	}
	s.Transcript = nil
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// StartTurn marks a chat turn as streaming. Only one turn may stream per
// session at a time.
func (m *Manager) StartTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.active(sessionID)
	if err != nil {
		return err
	}
	if s.ActiveTurnID != "" {
		return ErrTurnInFlight
	}
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// EndTurn clears turnID if it is still the active turn.
func (m *Manager) EndTurn(sessionID, turnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.ActiveTurnID != turnID {
		return
	}
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
}

// Interrupt counts a user cancel. The active turn keeps its slot until the
// cancelled turn calls EndTurn, so its transcript entries land first.
func (m *Manager) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveTurnID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Transcript = append([]Entry(nil), s.Transcript...)
	return &c
}
