package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dgraph-io/ristretto"

	"launchwatch/config"
	"launchwatch/internal/models"
	"launchwatch/logger"
)

// Store answers "was this listing announced?" and records announcements.
// Positive answers are cached; the repository's unique constraint decides
// every race.
type Store struct {
	repo  Repository
	cache *ristretto.Cache
	log   *logger.Log
	now   func() time.Time

	claimMu sync.Mutex
	claims  map[string]struct{}
}

func New(repo Repository, cacheCfg config.CacheConfig, log *logger.Log) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	maxKeys := cacheCfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 100000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxKeys * 10,
		MaxCost:            maxKeys,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create announcement cache: %w", err)
	}
	return &Store{
		repo:   repo,
		cache:  cache,
		log:    log,
		now:    time.Now,
		claims: make(map[string]struct{}),
	}, nil
}

// IsAnnounced reports whether key has a durable announcement record.
func (s *Store) IsAnnounced(ctx context.Context, key string) (bool, error) {
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}
	ok, err := s.repo.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		s.remember(key)
	}
	return ok, nil
}

// RecordAnnouncement inserts the record for key iff none exists. A losing
// insert returns ErrAlreadyAnnounced.
func (s *Store) RecordAnnouncement(ctx context.Context, key, displayName, receiptID string) (models.AnnouncementRecord, error) {
	rec, err := s.repo.Insert(ctx, models.AnnouncementRecord{
		IdentityKey:       key,
		DisplayName:       cleanDisplayName(displayName),
		AnnouncedAt:       s.now().UTC(),
		DeliveryReceiptID: receiptID,
	})
	if errors.Is(err, ErrAlreadyAnnounced) {
		s.log.WithComponent("store").WithFields(logger.Fields{"identity_key": key}).Debug("announcement already recorded")
		s.remember(key)
		return models.AnnouncementRecord{}, ErrAlreadyAnnounced
	}
	if err != nil {
		return models.AnnouncementRecord{}, err
	}
	s.remember(key)
	return rec, nil
}

// maxDisplayNameRunes matches the display_name column width.
const maxDisplayNameRunes = 255

// cleanDisplayName drops control runes, NUL included, and truncates to the
// column width.
func cleanDisplayName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, strings.ToValidUTF8(name, ""))
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > maxDisplayNameRunes {
		cleaned = string(runes[:maxDisplayNameRunes])
	}
	return cleaned
}

func (s *Store) remember(key string) {
	s.cache.Set(key, struct{}{}, 1)
	s.cache.Wait()
}

// Claim reserves key for the calling pipeline run so no other run in this
// process delivers it at the same time. The returned release func must be
// called once the run is done with key.
func (s *Store) Claim(key string) (release func(), ok bool) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if _, taken := s.claims[key]; taken {
		return nil, false
	}
	s.claims[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.claimMu.Lock()
			delete(s.claims, key)
			s.claimMu.Unlock()
		})
	}, true
}

// ListAnnouncements returns up to limit records, newest first.
func (s *Store) ListAnnouncements(ctx context.Context, limit int) ([]models.AnnouncementRecord, error) {
	return s.repo.List(ctx, limit)
}

func (s *Store) LoadStats(ctx context.Context) (models.MonitorStats, bool, error) {
	return s.repo.LoadStats(ctx)
}

func (s *Store) SaveStats(ctx context.Context, stats models.MonitorStats) error {
	return s.repo.SaveStats(ctx, stats)
}

func (s *Store) Close() error {
	s.cache.Close()
	return s.repo.Close()
}
