// Package writer forwards announcements from the event bus to downstream
// sinks: a Kafka topic and an S3 archive.
package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"launchwatch/internal/events"
	"launchwatch/internal/models"
	"launchwatch/logger"
)

// announcementEnvelope is the serialized form written by every sink.
type announcementEnvelope struct {
	EventID      string                    `json:"event_id"`
	Type         events.Type               `json:"type"`
	Timestamp    time.Time                 `json:"timestamp"`
	Announcement models.AnnouncementRecord `json:"announcement"`
}

type handleFunc func(ctx context.Context, env announcementEnvelope) error

// subscriber drains new_token events from the bus into handle until the
// subscription closes or ctx is done.
type subscriber struct {
	name   string
	handle handleFunc
	log    *logger.Entry

	mu      sync.Mutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
}

func (s *subscriber) start(ctx context.Context, bus *events.Bus, buffer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%s already running", s.name)
	}
	ch, cancel := bus.Subscribe(s.name, buffer)
	s.running = true
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				s.dispatch(ctx, evt)
			}
		}
	}()
	return nil
}

func (s *subscriber) dispatch(ctx context.Context, evt events.Event) {
	if evt.Type != events.TypeNewToken {
		return
	}
	rec, ok := evt.Data.(models.AnnouncementRecord)
	if !ok {
		s.log.WithFields(logger.Fields{"event_id": evt.ID}).Warn("new_token event without announcement record")
		return
	}
	env := announcementEnvelope{EventID: evt.ID, Type: evt.Type, Timestamp: evt.Timestamp, Announcement: rec}
	if err := s.handle(ctx, env); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"identity_key": rec.IdentityKey}).Warn("failed to forward announcement")
		return
	}
	s.log.WithFields(logger.Fields{"identity_key": rec.IdentityKey}).Debug("announcement forwarded")
}

// stop unsubscribes and waits for the in-flight handle call.
func (s *subscriber) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
