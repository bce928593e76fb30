package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the pgx surface the store needs; satisfied by *pgxpool.Pool and
// by pgxmock in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionRecord is one triage session row. Summary is the JSON summary blob
// as committed by the conversation coordinator, opaque to the store.
type SessionRecord struct {
	ID        string
	Status    string
	Summary   json.RawMessage
	UpdatedAt time.Time
}

// MessageRecord is one persisted conversation message.
type MessageRecord struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// Store persists triage sessions and their messages in Postgres.
type Store struct {
	pool PgxPool
}

// NewStore creates a store backed by pgx.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("sessionstore: pgx pool required")
	}
	return &Store{pool: pool}
}

// GetSession loads a session and its messages in chronological order.
// Returns (nil, nil, nil) when no session exists under that id.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, []MessageRecord, error) {
	var rec SessionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, summary, updated_at FROM triage_sessions WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Status, &rec.Summary, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sessionstore: load session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, metadata, created_at
		 FROM triage_messages WHERE session_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("sessionstore: load messages: %w", err)
	}
	defer rows.Close()

	var msgs []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("sessionstore: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("sessionstore: iterate messages: %w", err)
	}
	return &rec, msgs, nil
}

// CreateSession inserts a fresh active session and returns it.
func (s *Store) CreateSession(ctx context.Context) (*SessionRecord, error) {
	rec := SessionRecord{ID: uuid.NewString(), Status: "active"}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO triage_sessions (id, status) VALUES ($1, 'active') RETURNING updated_at`,
		rec.ID,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: create session: %w", err)
	}
	return &rec, nil
}

// CompleteSession marks a session completed. Completing an unknown session is
// reported as ErrSessionNotFound so the handler can 404.
func (s *Store) CompleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triage_sessions SET status = 'completed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sessionstore: complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateSummary replaces the stored summary blob for a session.
func (s *Store) UpdateSummary(ctx context.Context, id string, summary json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triage_sessions SET summary = $2, updated_at = now() WHERE id = $1`, id, summary)
	if err != nil {
		return fmt.Errorf("sessionstore: update summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// InsertMessage appends a message to a session.
func (s *Store) InsertMessage(ctx context.Context, sessionID, role, content string, metadata json.RawMessage) (*MessageRecord, error) {
	rec := MessageRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO triage_messages (id, session_id, role, content, metadata)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		rec.ID, rec.SessionID, rec.Role, rec.Content, rec.Metadata,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: insert message: %w", err)
	}
	return &rec, nil
}

// ErrSessionNotFound marks writes against a session id the store has never
// seen.
var ErrSessionNotFound = errors.New("sessionstore: session not found")
