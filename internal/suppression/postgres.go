package suppression

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/relay/internal/domain"
)

// PostgresRepository is the production suppression store.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed suppression repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the suppression table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_suppressions (
			id         UUID PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			email      TEXT NOT NULL,
			type       TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, email, type)
		);
		CREATE INDEX IF NOT EXISTS idx_relay_suppressions_email
			ON relay_suppressions (tenant_id, email);
	`)
	return err
}

func (r *PostgresRepository) IsSuppressed(ctx context.Context, tenantID, email string) (bool, error) {
	var suppressed bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM relay_suppressions WHERE tenant_id = $1 AND email = $2
		)
	`, tenantID, email).Scan(&suppressed)
	return suppressed, err
}

func (r *PostgresRepository) Add(ctx context.Context, entry *domain.SuppressionEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relay_suppressions (id, tenant_id, email, type, reason, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, email, type) DO NOTHING
	`, entry.ID, entry.TenantID, entry.Email, entry.Type, entry.Reason, entry.Source)
	if err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Remove(ctx context.Context, tenantID, email string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM relay_suppressions WHERE tenant_id = $1 AND email = $2
	`, tenantID, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	query := `
		SELECT id, tenant_id, email, type, reason, source, created_at
		FROM relay_suppressions
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND email LIKE $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Email, &e.Type, &e.Reason, &e.Source, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relay_suppressions WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *PostgresRepository) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT email) FROM relay_suppressions WHERE tenant_id = $1
	`, tenantID).Scan(&count)
	return count, err
}
