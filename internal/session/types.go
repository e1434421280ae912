package session

import "time"

// CreateRequest defines payload for creating a new session. PersonID is
// optional; a session may log in later.
type CreateRequest struct {
	PersonID string `json:"person_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	PersonID        string    `json:"person_id,omitempty"`
	PersonName      string    `json:"person_name,omitempty"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
	Transcript      []Entry   `json:"transcript"`
}

// LoginRequest selects the person a session acts for.
type LoginRequest struct {
	PersonID string `json:"person_id"`
}

// Entry is one transcript line: a chat turn or a workflow card.
type Entry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content,omitempty"`
	Thinking  string    `json:"thinking,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
