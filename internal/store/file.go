package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"launchwatch/internal/models"
)

const fileStateVersion = "1"

type fileState struct {
	Version       string                               `json:"version"`
	NextID        int64                                `json:"next_id"`
	Announcements map[string]models.AnnouncementRecord `json:"announcements"`
	Stats         *models.MonitorStats                 `json:"stats,omitempty"`
}

// FileRepository keeps announcements in a JSON file. Every write is flushed
// to a temp file and renamed over the original before it returns.
type FileRepository struct {
	path  string
	mu    sync.Mutex
	state fileState
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: path,
		state: fileState{
			Version:       fileStateVersion,
			Announcements: make(map[string]models.AnnouncementRecord),
		},
	}
}

// Migrate creates the data directory and loads existing state. A file that
// cannot be parsed is an error: starting empty would announce everything
// again.
func (r *FileRepository) Migrate(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.flush()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var loaded fileState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", r.path, err)
	}
	if loaded.Version != fileStateVersion {
		return fmt.Errorf("state file %s has version %q, expected %q", r.path, loaded.Version, fileStateVersion)
	}
	if loaded.Announcements == nil {
		loaded.Announcements = make(map[string]models.AnnouncementRecord)
	}

	r.mu.Lock()
	r.state = loaded
	r.mu.Unlock()
	return nil
}

func (r *FileRepository) Exists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.Announcements[key]
	return ok, nil
}

func (r *FileRepository) Insert(_ context.Context, rec models.AnnouncementRecord) (models.AnnouncementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.Announcements[rec.IdentityKey]; ok {
		return models.AnnouncementRecord{}, ErrAlreadyAnnounced
	}
	r.state.NextID++
	rec.ID = r.state.NextID
	r.state.Announcements[rec.IdentityKey] = rec

	if err := r.flush(); err != nil {
		delete(r.state.Announcements, rec.IdentityKey)
		r.state.NextID--
		return models.AnnouncementRecord{}, err
	}
	return rec, nil
}

func (r *FileRepository) List(_ context.Context, limit int) ([]models.AnnouncementRecord, error) {
	r.mu.Lock()
	out := make([]models.AnnouncementRecord, 0, len(r.state.Announcements))
	for _, rec := range r.state.Announcements {
		out = append(out, rec)
	}
	r.mu.Unlock()
	return newestFirst(out, limit), nil
}

func (r *FileRepository) LoadStats(context.Context) (models.MonitorStats, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Stats == nil {
		return models.MonitorStats{}, false, nil
	}
	return *r.state.Stats, true, nil
}

func (r *FileRepository) SaveStats(_ context.Context, stats models.MonitorStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Stats = &stats
	return r.flush()
}

func (r *FileRepository) Close() error { return nil }

// flush must be called with mu held.
func (r *FileRepository) flush() error {
	tmp := r.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.state); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
