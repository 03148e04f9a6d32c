package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchwatch/internal/events"
	"launchwatch/internal/models"
)

type fakePersister struct {
	mu      sync.Mutex
	stored  *models.MonitorStats
	saves   int
	loadErr error
	saveErr error
}

func (f *fakePersister) LoadStats(context.Context) (models.MonitorStats, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return models.MonitorStats{}, false, f.loadErr
	}
	if f.stored == nil {
		return models.MonitorStats{}, false, nil
	}
	return *f.stored, true, nil
}

func (f *fakePersister) SaveStats(_ context.Context, st models.MonitorStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored = &st
	return nil
}

func TestNewSinkCreatesRecordWhenAbsent(t *testing.T) {
	p := &fakePersister{}
	sink, err := NewSink(context.Background(), p, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, p.saves)
	assert.Equal(t, models.MonitorStats{}, sink.Snapshot())
}

func TestNewSinkLoadsExistingAndClearsRunning(t *testing.T) {
	msg := "old failure"
	p := &fakePersister{stored: &models.MonitorStats{TotalSeen: 9, TotalAnnounced: 4, LastError: &msg, Running: true}}
	sink, err := NewSink(context.Background(), p, nil, nil)
	require.NoError(t, err)

	snap := sink.Snapshot()
	assert.Equal(t, int64(9), snap.TotalSeen)
	assert.Equal(t, int64(4), snap.TotalAnnounced)
	assert.False(t, snap.Running)
	assert.Equal(t, 0, p.saves)
}

func TestNewSinkLoadError(t *testing.T) {
	_, err := NewSink(context.Background(), &fakePersister{loadErr: errors.New("db down")}, nil, nil)
	assert.Error(t, err)
}

func TestRecordCycleAccumulatesAndPublishes(t *testing.T) {
	p := &fakePersister{}
	bus := events.NewBus(nil)
	ch, cancel := bus.Subscribe("test", 4)
	defer cancel()

	sink, err := NewSink(context.Background(), p, bus, nil)
	require.NoError(t, err)

	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	failure := "telegram: 502"
	sink.RecordCycle(CycleSummary{FinishedAt: finished, Seen: 5, Announced: 2, DeliveryFailures: 1, LastError: &failure})
	sink.RecordCycle(CycleSummary{FinishedAt: finished.Add(time.Minute), Seen: 3, Announced: 1})

	snap := sink.Snapshot()
	assert.Equal(t, int64(8), snap.TotalSeen)
	assert.Equal(t, int64(3), snap.TotalAnnounced)
	assert.Equal(t, int64(2), snap.TotalCycles)
	assert.Equal(t, int64(1), snap.DeliveryFailures)
	require.NotNil(t, snap.LastCycleAt)
	assert.True(t, snap.LastCycleAt.Equal(finished.Add(time.Minute)))
	assert.Nil(t, snap.LastError, "successful cycle clears the last error")

	require.NotNil(t, p.stored)
	assert.Equal(t, int64(8), p.stored.TotalSeen)

	first := <-ch
	assert.Equal(t, events.TypeStatsUpdate, first.Type)
	data, ok := first.Data.(models.MonitorStats)
	require.True(t, ok)
	require.NotNil(t, data.LastError)
	assert.Equal(t, failure, *data.LastError)
}

func TestRecordErrorKeepsCounters(t *testing.T) {
	sink, err := NewSink(context.Background(), &fakePersister{}, nil, nil)
	require.NoError(t, err)

	sink.RecordCycle(CycleSummary{Seen: 2})
	sink.RecordError("feed unreachable")

	snap := sink.Snapshot()
	assert.Equal(t, int64(1), snap.TotalCycles)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "feed unreachable", *snap.LastError)
}

func TestSnapshotIsACopy(t *testing.T) {
	sink, err := NewSink(context.Background(), &fakePersister{}, nil, nil)
	require.NoError(t, err)
	sink.RecordError("first")

	snap := sink.Snapshot()
	*snap.LastError = "mutated"

	assert.Equal(t, "first", *sink.Snapshot().LastError)
}

func TestSaveFailureKeepsInMemoryState(t *testing.T) {
	p := &fakePersister{}
	sink, err := NewSink(context.Background(), p, nil, nil)
	require.NoError(t, err)

	p.saveErr = errors.New("disk full")
	sink.SetRunning(true)

	assert.True(t, sink.Snapshot().Running)
}
