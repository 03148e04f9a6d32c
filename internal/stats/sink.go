// Package stats owns the MonitorStats singleton: it applies cycle outcomes,
// persists the result and broadcasts it to dashboard sessions.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"launchwatch/internal/events"
	"launchwatch/internal/models"
	"launchwatch/logger"
)

// Persister is the slice of the store the sink needs.
type Persister interface {
	LoadStats(ctx context.Context) (models.MonitorStats, bool, error)
	SaveStats(ctx context.Context, stats models.MonitorStats) error
}

// CycleSummary is what one poll cycle contributes to the stats.
type CycleSummary struct {
	FinishedAt       time.Time
	Seen             int
	Announced        int
	DeliveryFailures int
	// LastError replaces the stored error. Nil clears it.
	LastError *string
}

type Sink struct {
	mu    sync.RWMutex
	stats models.MonitorStats

	// persistMu orders snapshot+save pairs so an older snapshot never
	// overwrites a newer one. Readers only take mu.
	persistMu sync.Mutex

	store   Persister
	bus     *events.Bus
	log     *logger.Entry
	timeout time.Duration
}

// NewSink loads the stored stats, creating the record when absent. A stored
// running flag from a previous process is cleared.
func NewSink(ctx context.Context, store Persister, bus *events.Bus, log *logger.Log) (*Sink, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Sink{
		store:   store,
		bus:     bus,
		log:     log.WithComponent("stats"),
		timeout: 5 * time.Second,
	}

	current, found, err := store.LoadStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load monitor stats: %w", err)
	}
	current.Running = false
	s.stats = current
	if !found {
		if err := store.SaveStats(ctx, current); err != nil {
			return nil, fmt.Errorf("create monitor stats: %w", err)
		}
		s.log.Info("monitor stats created")
	}
	return s, nil
}

func (s *Sink) Snapshot() models.MonitorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStats(s.stats)
}

func (s *Sink) SetRunning(running bool) {
	s.update(func(st *models.MonitorStats) { st.Running = running })
}

func (s *Sink) RecordCycle(sum CycleSummary) {
	s.update(func(st *models.MonitorStats) {
		st.TotalCycles++
		st.TotalSeen += int64(sum.Seen)
		st.TotalAnnounced += int64(sum.Announced)
		st.DeliveryFailures += int64(sum.DeliveryFailures)
		finished := sum.FinishedAt
		if finished.IsZero() {
			finished = time.Now()
		}
		finished = finished.UTC()
		st.LastCycleAt = &finished
		if sum.LastError != nil {
			msg := *sum.LastError
			st.LastError = &msg
		} else {
			st.LastError = nil
		}
	})
}

// RecordError sets the last error without counting a cycle.
func (s *Sink) RecordError(msg string) {
	s.update(func(st *models.MonitorStats) { st.LastError = &msg })
}

func (s *Sink) update(apply func(*models.MonitorStats)) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	apply(&s.stats)
	snapshot := copyStats(s.stats)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.SaveStats(ctx, snapshot); err != nil {
		s.log.WithError(err).Error("failed to persist monitor stats")
	}

	if s.bus != nil {
		s.bus.Publish(events.New(events.TypeStatsUpdate, snapshot))
	}
}

func copyStats(in models.MonitorStats) models.MonitorStats {
	out := in
	if in.LastCycleAt != nil {
		t := *in.LastCycleAt
		out.LastCycleAt = &t
	}
	if in.LastError != nil {
		e := *in.LastError
		out.LastError = &e
	}
	return out
}
