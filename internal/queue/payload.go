package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ignite/relay/internal/domain"
)

// PayloadStore holds the composed message content a job refers to by
// PayloadRef. Jobs stay small in the queue; content is fetched at send time.
type PayloadStore interface {
	Put(ctx context.Context, ref string, msg *domain.Message) error
	Get(ctx context.Context, ref string) (*domain.Message, error)
}

// ErrPayloadNotFound is returned when a PayloadRef does not resolve.
var ErrPayloadNotFound = errors.New("payload not found")

// PostgresPayloadStore stores message payloads as JSONB.
type PostgresPayloadStore struct {
	db *sql.DB
}

// NewPostgresPayloadStore creates a Postgres-backed payload store.
func NewPostgresPayloadStore(db *sql.DB) *PostgresPayloadStore {
	return &PostgresPayloadStore{db: db}
}

// EnsureSchema creates the payload table if it does not exist.
func (s *PostgresPayloadStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_payloads (
			ref        TEXT PRIMARY KEY,
			content    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresPayloadStore) Put(ctx context.Context, ref string, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_payloads (ref, content) VALUES ($1, $2)
		ON CONFLICT (ref) DO NOTHING
	`, ref, data)
	return err
}

func (s *PostgresPayloadStore) Get(ctx context.Context, ref string) (*domain.Message, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM relay_payloads WHERE ref = $1`, ref).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayloadNotFound
	}
	if err != nil {
		return nil, err
	}
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", ref, err)
	}
	return &msg, nil
}

// MemoryPayloadStore is the in-memory PayloadStore for tests.
type MemoryPayloadStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Message
}

// NewMemoryPayloadStore creates an empty in-memory payload store.
func NewMemoryPayloadStore() *MemoryPayloadStore {
	return &MemoryPayloadStore{data: make(map[string]*domain.Message)}
}

func (s *MemoryPayloadStore) Put(ctx context.Context, ref string, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[ref]; !exists {
		cp := *msg
		s.data[ref] = &cp
	}
	return nil
}

func (s *MemoryPayloadStore) Get(ctx context.Context, ref string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.data[ref]
	if !ok {
		return nil, ErrPayloadNotFound
	}
	cp := *msg
	return &cp, nil
}
