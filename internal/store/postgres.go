package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchwatch/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS announcements (
	id                  BIGSERIAL PRIMARY KEY,
	identity_key        TEXT NOT NULL UNIQUE,
	display_name        TEXT NOT NULL,
	announced_at        TIMESTAMPTZ NOT NULL,
	delivery_receipt_id TEXT
);
CREATE INDEX IF NOT EXISTS announcements_announced_at_idx ON announcements (announced_at DESC);
CREATE TABLE IF NOT EXISTS monitor_stats (
	id                SMALLINT PRIMARY KEY CHECK (id = 1),
	total_seen        BIGINT NOT NULL DEFAULT 0,
	total_announced   BIGINT NOT NULL DEFAULT 0,
	total_cycles      BIGINT NOT NULL DEFAULT 0,
	delivery_failures BIGINT NOT NULL DEFAULT 0,
	last_cycle_at     TIMESTAMPTZ,
	last_error        TEXT,
	running           BOOLEAN NOT NULL DEFAULT FALSE
);`

// pgxConn is the subset of *pgxpool.Pool the repository uses.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	db    pgxConn
	close func()
}

// NewPostgresRepository connects a pool to dsn.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{db: pool, close: pool.Close}, nil
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM announcements WHERE identity_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup announcement %s: %w", key, err)
	}
	return exists, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec models.AnnouncementRecord) (models.AnnouncementRecord, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO announcements (identity_key, display_name, announced_at, delivery_receipt_id)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		rec.IdentityKey, rec.DisplayName, rec.AnnouncedAt, nullableString(rec.DeliveryReceiptID),
	).Scan(&rec.ID)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return models.AnnouncementRecord{}, ErrAlreadyAnnounced
		}
		return models.AnnouncementRecord{}, fmt.Errorf("insert announcement %s: %w", rec.IdentityKey, err)
	}
	return rec, nil
}

func isPostgresUniqueViolation(err error) bool {
	var e *pgconn.PgError
	return errors.As(err, &e) && e.Code == pgerrcode.UniqueViolation
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]models.AnnouncementRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, identity_key, display_name, announced_at, delivery_receipt_id
		 FROM announcements ORDER BY announced_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	var out []models.AnnouncementRecord
	for rows.Next() {
		var rec models.AnnouncementRecord
		var receipt *string
		if err := rows.Scan(&rec.ID, &rec.IdentityKey, &rec.DisplayName, &rec.AnnouncedAt, &receipt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		if receipt != nil {
			rec.DeliveryReceiptID = *receipt
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LoadStats(ctx context.Context) (models.MonitorStats, bool, error) {
	var s models.MonitorStats
	err := r.db.QueryRow(ctx,
		`SELECT total_seen, total_announced, total_cycles, delivery_failures, last_cycle_at, last_error, running
		 FROM monitor_stats WHERE id = 1`,
	).Scan(&s.TotalSeen, &s.TotalAnnounced, &s.TotalCycles, &s.DeliveryFailures, &s.LastCycleAt, &s.LastError, &s.Running)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MonitorStats{}, false, nil
	}
	if err != nil {
		return models.MonitorStats{}, false, fmt.Errorf("load stats: %w", err)
	}
	return s, true, nil
}

func (r *PostgresRepository) SaveStats(ctx context.Context, s models.MonitorStats) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO monitor_stats (id, total_seen, total_announced, total_cycles, delivery_failures, last_cycle_at, last_error, running)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   total_seen = EXCLUDED.total_seen,
		   total_announced = EXCLUDED.total_announced,
		   total_cycles = EXCLUDED.total_cycles,
		   delivery_failures = EXCLUDED.delivery_failures,
		   last_cycle_at = EXCLUDED.last_cycle_at,
		   last_error = EXCLUDED.last_error,
		   running = EXCLUDED.running`,
		s.TotalSeen, s.TotalAnnounced, s.TotalCycles, s.DeliveryFailures, s.LastCycleAt, s.LastError, s.Running)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	if r.close != nil {
		r.close()
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
