package admission

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Usage is a tenant's current consumption against quota windows.
type Usage struct {
	Daily              int
	Monthly            int
	DistinctRecipients int
}

// QuotaStore tracks per-tenant sending usage. The interface is the
// contract; the in-memory map is one adapter behind it, used by tests and
// single-node runs, with Postgres carrying production state.
type QuotaStore interface {
	// Usage returns the tenant's consumption for the current windows.
	Usage(ctx context.Context, tenantID string) (Usage, error)

	// Record adds accepted sends to the tenant's usage after admission.
	Record(ctx context.Context, tenantID string, recipients []string) error
}

// PostgresQuotaStore persists usage as daily rows; windows derive from the
// row dates so no reset job is needed.
type PostgresQuotaStore struct {
	db *sql.DB
}

// NewPostgresQuotaStore creates a Postgres-backed quota store.
func NewPostgresQuotaStore(db *sql.DB) *PostgresQuotaStore {
	return &PostgresQuotaStore{db: db}
}

// EnsureSchema creates the usage tables if they do not exist.
func (s *PostgresQuotaStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_usage_daily (
			tenant_id TEXT NOT NULL,
			day       DATE NOT NULL,
			sent      INT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, day)
		);
		CREATE TABLE IF NOT EXISTS relay_usage_recipients (
			tenant_id TEXT NOT NULL,
			month     DATE NOT NULL,
			email     TEXT NOT NULL,
			PRIMARY KEY (tenant_id, month, email)
		);
	`)
	return err
}

func (s *PostgresQuotaStore) Usage(ctx context.Context, tenantID string) (Usage, error) {
	var u Usage
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(sent) FILTER (WHERE day = CURRENT_DATE), 0),
			COALESCE(SUM(sent) FILTER (WHERE day >= date_trunc('month', CURRENT_DATE)), 0)
		FROM relay_usage_daily
		WHERE tenant_id = $1
		  AND day >= date_trunc('month', CURRENT_DATE)
	`, tenantID).Scan(&u.Daily, &u.Monthly)
	if err != nil {
		return u, err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relay_usage_recipients
		WHERE tenant_id = $1 AND month = date_trunc('month', CURRENT_DATE)
	`, tenantID).Scan(&u.DistinctRecipients)
	return u, err
}

func (s *PostgresQuotaStore) Record(ctx context.Context, tenantID string, recipients []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_usage_daily (tenant_id, day, sent)
		VALUES ($1, CURRENT_DATE, $2)
		ON CONFLICT (tenant_id, day) DO UPDATE SET sent = relay_usage_daily.sent + $2
	`, tenantID, len(recipients)); err != nil {
		return err
	}

	for _, email := range recipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relay_usage_recipients (tenant_id, month, email)
			VALUES ($1, date_trunc('month', CURRENT_DATE), $2)
			ON CONFLICT DO NOTHING
		`, tenantID, email); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MemoryQuotaStore tracks usage in process memory.
type MemoryQuotaStore struct {
	mu         sync.Mutex
	daily      map[string]int            // tenant -> sends today
	monthly    map[string]int            // tenant -> sends this month
	recipients map[string]map[string]bool // tenant -> distinct recipients this month
	day        time.Time
	month      time.Time
}

// NewMemoryQuotaStore creates an empty in-memory quota store.
func NewMemoryQuotaStore() *MemoryQuotaStore {
	now := time.Now()
	return &MemoryQuotaStore{
		daily:      make(map[string]int),
		monthly:    make(map[string]int),
		recipients: make(map[string]map[string]bool),
		day:        now.Truncate(24 * time.Hour),
		month:      time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()),
	}
}

// rollWindows resets counters when the day or month boundary passes.
func (s *MemoryQuotaStore) rollWindows() {
	now := time.Now()
	if day := now.Truncate(24 * time.Hour); day.After(s.day) {
		s.daily = make(map[string]int)
		s.day = day
	}
	if month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()); month.After(s.month) {
		s.monthly = make(map[string]int)
		s.recipients = make(map[string]map[string]bool)
		s.month = month
	}
}

func (s *MemoryQuotaStore) Usage(ctx context.Context, tenantID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollWindows()
	return Usage{
		Daily:              s.daily[tenantID],
		Monthly:            s.monthly[tenantID],
		DistinctRecipients: len(s.recipients[tenantID]),
	}, nil
}

func (s *MemoryQuotaStore) Record(ctx context.Context, tenantID string, recipients []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollWindows()
	s.daily[tenantID] += len(recipients)
	s.monthly[tenantID] += len(recipients)
	if s.recipients[tenantID] == nil {
		s.recipients[tenantID] = make(map[string]bool)
	}
	for _, r := range recipients {
		s.recipients[tenantID][r] = true
	}
	return nil
}
