package chatlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			person_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_session_created ON chat_turns (session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_person ON chat_turns (person_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_turns (id, session_id, person_id, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID,
		record.SessionID,
		record.PersonID,
		record.Role,
		record.Content,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, person_id, role, content, pii_redacted, created_at
		 FROM chat_turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.PersonID, &r.Role, &r.Content, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, personID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id,
		        COALESCE((ARRAY_AGG(content ORDER BY created_at) FILTER (WHERE role = 'user'))[1], ''),
		        COUNT(*), MIN(created_at), MAX(created_at)
		 FROM chat_turns WHERE person_id=$1
		 GROUP BY session_id ORDER BY MAX(created_at) DESC`,
		personID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.SessionID, &c.Title, &c.Turns, &c.StartedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		c.Title = conversationTitle(c.Title)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
