package chatlog

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant chat turn. Assistant turns
// hold the visible reply only; thinking text is never persisted.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	PersonID    string    `json:"person_id,omitempty"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation summarizes one session's chat turns for the history sidebar.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists and retrieves chat history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit turns of a session in chronological order.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	// ListConversations returns a person's sessions, most recently updated first.
	ListConversations(ctx context.Context, personID string) ([]Conversation, error)
	Close() error
}

const titleRunes = 24

func conversationTitle(content string) string {
	r := []rune(content)
	if len(r) <= titleRunes {
		return content
	}
	return string(r[:titleRunes]) + "…"
}
