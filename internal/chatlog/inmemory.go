package chatlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process chat log for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.SessionID] = append(s.records[record.SessionID], record)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, personID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Conversation
	for sessionID, arr := range s.records {
		if len(arr) == 0 || arr[0].PersonID != personID {
			continue
		}
		c := Conversation{
			SessionID: sessionID,
			Turns:     len(arr),
			StartedAt: arr[0].CreatedAt,
			UpdatedAt: arr[len(arr)-1].CreatedAt,
		}
		for _, r := range arr {
			if r.Role == RoleUser {
				c.Title = conversationTitle(r.Content)
				break
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
