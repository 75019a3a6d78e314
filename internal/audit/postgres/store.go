package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/queryforge/queryforge/internal/audit"
)

// psq builds statements with dollar placeholders for postgres.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const ensureSchemaSQL = `
CREATE TABLE IF NOT EXISTS resolver_audit (
	id BIGSERIAL PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	state TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	input_signature TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS resolver_audit_task_idx ON resolver_audit (task_id, id);
`

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open connects to the audit database, verifies connectivity, and ensures the
// trail schema exists.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}

	if _, err := db.ExecContext(ctx, ensureSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	return db, nil
}

// Store implements audit.Trail on postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, entry audit.Entry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query, args, err := psq.Insert("resolver_audit").
		Columns("correlation_id", "task_id", "state", "detail", "input_signature", "recorded_at").
		Values(entry.CorrelationID, entry.TaskID, entry.State, entry.Detail, entry.InputSignature, at).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListByTask(ctx context.Context, taskID string) ([]audit.Entry, error) {
	query, args, err := psq.Select("correlation_id", "task_id", "state", "detail", "input_signature", "recorded_at").
		From("resolver_audit").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		if err := rows.Scan(&entry.CorrelationID, &entry.TaskID, &entry.State, &entry.Detail, &entry.InputSignature, &entry.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
