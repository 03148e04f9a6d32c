package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"launchwatch/internal/metrics"
)

// history keeps the newest limit items. Safe for concurrent use.
type history[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newHistory[T any](limit int) *history[T] {
	if limit <= 0 {
		limit = 200
	}
	return &history[T]{limit: limit}
}

func (h *history[T]) add(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append([]T(nil), h.items[over:]...)
	}
}

func (h *history[T]) snapshot() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

type metricRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Name      string                 `json:"name"`
	CycleID   string                 `json:"cycle_id,omitempty"`
	Value     interface{}            `json:"value"`
	Type      string                 `json:"type"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// metricHistory is registered as a metrics handler.
type metricHistory struct {
	*history[metricRecord]
}

func newMetricHistory(limit int) *metricHistory {
	return &metricHistory{newHistory[metricRecord](limit)}
}

func (h *metricHistory) handle(m metrics.Metric) {
	h.add(metricRecord{
		Timestamp: m.Timestamp,
		Component: m.Component,
		Name:      m.Name,
		CycleID:   m.CycleID,
		Value:     m.Value,
		Type:      m.Type,
		Fields:    m.Fields,
	})
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logHistory is a logrus hook capturing info and above for the log panel.
type logHistory struct {
	*history[logRecord]
	enabled atomic.Bool
}

func newLogHistory(limit int) *logHistory {
	h := &logHistory{history: newHistory[logRecord](limit)}
	h.enabled.Store(true)
	return h
}

func (h *logHistory) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (h *logHistory) Fire(entry *logrus.Entry) error {
	if !h.enabled.Load() {
		return nil
	}
	rec := logRecord{Timestamp: entry.Time, Level: entry.Level.String(), Message: entry.Message}
	if component, ok := entry.Data["component"].(string); ok {
		rec.Component = component
	}
	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			rec.Fields[k] = val.Error()
		case fmt.Stringer:
			rec.Fields[k] = val.String()
		default:
			rec.Fields[k] = val
		}
	}
	h.add(rec)
	return nil
}

func (h *logHistory) close() { h.enabled.Store(false) }
