package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"launchwatch/internal/models"
)

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS announcements (
		id                  BIGINT AUTO_INCREMENT PRIMARY KEY,
		identity_key        VARCHAR(512) NOT NULL,
		display_name        VARCHAR(255) NOT NULL,
		announced_at        DATETIME(6) NOT NULL,
		delivery_receipt_id VARCHAR(64) NULL,
		UNIQUE KEY announcements_identity_key_uq (identity_key),
		KEY announcements_announced_at_idx (announced_at)
	) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS monitor_stats (
		id                TINYINT PRIMARY KEY,
		total_seen        BIGINT NOT NULL DEFAULT 0,
		total_announced   BIGINT NOT NULL DEFAULT 0,
		total_cycles      BIGINT NOT NULL DEFAULT 0,
		delivery_failures BIGINT NOT NULL DEFAULT 0,
		last_cycle_at     DATETIME(6) NULL,
		last_error        TEXT NULL,
		running           BOOLEAN NOT NULL DEFAULT FALSE
	) CHARACTER SET utf8mb4`,
}

type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository opens dsn with time parsing forced on.
func NewMySQLRepository(ctx context.Context, dsn string) (*MySQLRepository, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLRepository{db: db}, nil
}

func (r *MySQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate mysql: %w", err)
		}
	}
	return nil
}

func (r *MySQLRepository) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM announcements WHERE identity_key = ?)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup announcement %s: %w", key, err)
	}
	return exists, nil
}

func (r *MySQLRepository) Insert(ctx context.Context, rec models.AnnouncementRecord) (models.AnnouncementRecord, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO announcements (identity_key, display_name, announced_at, delivery_receipt_id) VALUES (?, ?, ?, ?)`,
		rec.IdentityKey, rec.DisplayName, rec.AnnouncedAt.UTC(), nullableString(rec.DeliveryReceiptID))
	if err != nil {
		if isMySQLDuplicate(err) {
			return models.AnnouncementRecord{}, ErrAlreadyAnnounced
		}
		return models.AnnouncementRecord{}, fmt.Errorf("insert announcement %s: %w", rec.IdentityKey, err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return models.AnnouncementRecord{}, fmt.Errorf("announcement id: %w", err)
	}
	return rec, nil
}

func isMySQLDuplicate(err error) bool {
	var e *mysql.MySQLError
	return errors.As(err, &e) && e.Number == mysqlDuplicateEntry
}

func (r *MySQLRepository) List(ctx context.Context, limit int) ([]models.AnnouncementRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, identity_key, display_name, announced_at, delivery_receipt_id
		 FROM announcements ORDER BY announced_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	var out []models.AnnouncementRecord
	for rows.Next() {
		var rec models.AnnouncementRecord
		var receipt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.IdentityKey, &rec.DisplayName, &rec.AnnouncedAt, &receipt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		rec.DeliveryReceiptID = receipt.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *MySQLRepository) LoadStats(ctx context.Context) (models.MonitorStats, bool, error) {
	var s models.MonitorStats
	var lastCycle sql.NullTime
	var lastError sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT total_seen, total_announced, total_cycles, delivery_failures, last_cycle_at, last_error, running
		 FROM monitor_stats WHERE id = 1`,
	).Scan(&s.TotalSeen, &s.TotalAnnounced, &s.TotalCycles, &s.DeliveryFailures, &lastCycle, &lastError, &s.Running)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MonitorStats{}, false, nil
	}
	if err != nil {
		return models.MonitorStats{}, false, fmt.Errorf("load stats: %w", err)
	}
	if lastCycle.Valid {
		s.LastCycleAt = &lastCycle.Time
	}
	if lastError.Valid {
		s.LastError = &lastError.String
	}
	return s, true, nil
}

func (r *MySQLRepository) SaveStats(ctx context.Context, s models.MonitorStats) error {
	var lastCycle any
	if s.LastCycleAt != nil {
		lastCycle = s.LastCycleAt.UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monitor_stats (id, total_seen, total_announced, total_cycles, delivery_failures, last_cycle_at, last_error, running)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   total_seen = VALUES(total_seen),
		   total_announced = VALUES(total_announced),
		   total_cycles = VALUES(total_cycles),
		   delivery_failures = VALUES(delivery_failures),
		   last_cycle_at = VALUES(last_cycle_at),
		   last_error = VALUES(last_error),
		   running = VALUES(running)`,
		s.TotalSeen, s.TotalAnnounced, s.TotalCycles, s.DeliveryFailures, lastCycle, s.LastError, s.Running)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (r *MySQLRepository) Close() error {
	return r.db.Close()
}
