package store

import (
	"context"
	"sort"
	"sync"

	"launchwatch/internal/models"
)

// MemoryRepository keeps everything in process memory. It is used in tests
// and for dry runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]models.AnnouncementRecord
	nextID  int64
	stats   *models.MonitorStats
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]models.AnnouncementRecord)}
}

func (r *MemoryRepository) Migrate(context.Context) error { return nil }

func (r *MemoryRepository) Exists(_ context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[key]
	return ok, nil
}

func (r *MemoryRepository) Insert(_ context.Context, rec models.AnnouncementRecord) (models.AnnouncementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.IdentityKey]; ok {
		return models.AnnouncementRecord{}, ErrAlreadyAnnounced
	}
	r.nextID++
	rec.ID = r.nextID
	r.records[rec.IdentityKey] = rec
	return rec, nil
}

func (r *MemoryRepository) List(_ context.Context, limit int) ([]models.AnnouncementRecord, error) {
	r.mu.RLock()
	out := make([]models.AnnouncementRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func (r *MemoryRepository) LoadStats(context.Context) (models.MonitorStats, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stats == nil {
		return models.MonitorStats{}, false, nil
	}
	return *r.stats, true, nil
}

func (r *MemoryRepository) SaveStats(_ context.Context, stats models.MonitorStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = &stats
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

// newestFirst orders records by announcement time, then id, descending and
// applies limit when it is positive.
func newestFirst(records []models.AnnouncementRecord, limit int) []models.AnnouncementRecord {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].AnnouncedAt.Equal(records[j].AnnouncedAt) {
			return records[i].AnnouncedAt.After(records[j].AnnouncedAt)
		}
		return records[i].ID > records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
