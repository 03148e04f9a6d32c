// Package events fans pipeline events out to in-process subscribers such as
// the dashboard websocket hub and the announcement writers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"launchwatch/internal/metrics"
	"launchwatch/logger"
)

type Type string

const (
	TypeConnected    Type = "connected"
	TypeNewToken     Type = "new_token"
	TypeStatsUpdate  Type = "stats_update"
	TypeMonitorError Type = "monitor_error"
)

type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func New(t Type, data interface{}) Event {
	return Event{ID: uuid.NewString(), Type: t, Timestamp: time.Now().UTC(), Data: data}
}

type subscriber struct {
	name string
	ch   chan Event
}

// Bus delivers each published event to every subscriber without blocking the
// publisher. A subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	log    *logger.Log
}

func NewBus(log *logger.Log) *Bus {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Bus{subs: make(map[uint64]*subscriber), log: log}
}

// Subscribe registers a subscriber with the given buffer size. The cancel
// func unsubscribes and closes the channel.
func (b *Bus) Subscribe(name string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{name: name, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			metrics.EmitDropMetric(b.log, sub.name, string(evt.Type))
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
