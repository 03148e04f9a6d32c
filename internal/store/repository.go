// Package store records which listings have been announced. The durable
// repository is the source of truth; an in-memory cache sits in front of it.
package store

import (
	"context"
	"errors"

	"launchwatch/internal/models"
)

// ErrAlreadyAnnounced is returned when an announcement for the identity key
// already exists.
var ErrAlreadyAnnounced = errors.New("listing already announced")

// Repository persists announcement records and the monitor stats singleton.
// Insert must be atomic with respect to the identity key: of any number of
// concurrent inserts for one key exactly one succeeds and the rest return
// ErrAlreadyAnnounced.
type Repository interface {
	Migrate(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	Insert(ctx context.Context, rec models.AnnouncementRecord) (models.AnnouncementRecord, error)
	List(ctx context.Context, limit int) ([]models.AnnouncementRecord, error)
	LoadStats(ctx context.Context) (models.MonitorStats, bool, error)
	SaveStats(ctx context.Context, stats models.MonitorStats) error
	Close() error
}
