// Package monitor runs the poll-process loop: fetch a batch, keep the
// listings that were never announced, deliver each one and record it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/google/uuid"

	"launchwatch/config"
	"launchwatch/internal/events"
	"launchwatch/internal/extract"
	"launchwatch/internal/feed"
	"launchwatch/internal/formatter"
	"launchwatch/internal/metrics"
	"launchwatch/internal/models"
	"launchwatch/internal/notifier"
	"launchwatch/internal/stats"
	"launchwatch/internal/store"
	"launchwatch/logger"
)

// Announcements is the part of the idempotency store the loop uses.
type Announcements interface {
	IsAnnounced(ctx context.Context, key string) (bool, error)
	Claim(key string) (release func(), ok bool)
	RecordAnnouncement(ctx context.Context, key, displayName, receiptID string) (models.AnnouncementRecord, error)
}

type Deps struct {
	Source    feed.Source
	Extractor *extract.Extractor
	Store     Announcements
	Formatter *formatter.Formatter
	Notifier  notifier.Notifier
	Stats     *stats.Sink
	Bus       *events.Bus
	Log       *logger.Log
}

type Options struct {
	Interval       time.Duration
	FetchTimeout   time.Duration
	DeliverTimeout time.Duration
	StoreTimeout   time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:       cfg.Monitor.Interval,
		FetchTimeout:   cfg.Feed.Timeout,
		DeliverTimeout: cfg.Telegram.Timeout,
		StoreTimeout:   10 * time.Second,
	}
}

// CycleResult counts what happened to the listings of one cycle.
type CycleResult struct {
	CycleID          string
	Skipped          bool
	Fetched          int
	Accepted         int
	Rejected         int
	Duplicates       int
	AlreadyAnnounced int
	InFlight         int
	Announced        int
	DeliveryFailures int
	Errors           int
	FetchErr         error
	LastError        string
	Duration         time.Duration
}

type outcome int

const (
	outcomeAnnounced outcome = iota
	outcomeAlreadyAnnounced
	outcomeInFlight
	outcomeDeliveryFailed
	outcomeError
)

type Monitor struct {
	deps Deps
	opts Options
	log  *logger.Entry
	now  func() time.Time

	state   atomic.Int32
	running atomic.Bool
	cycling atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func New(deps Deps, opts Options) *Monitor {
	if deps.Log == nil {
		deps.Log = logger.GetLogger()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = 30 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Monitor{
		deps: deps,
		opts: opts,
		log:  deps.Log.WithComponent("monitor"),
		now:  time.Now,
	}
}

func (m *Monitor) State() State { return State(m.state.Load()) }

func (m *Monitor) setState(s State) { m.state.Store(int32(s)) }

func (m *Monitor) Running() bool { return m.running.Load() }

// Start launches the loop in the background. It returns false, and does
// nothing, when the loop is already running. The loop ends when ctx is
// cancelled or Stop is called; a cycle in progress always completes.
func (m *Monitor) Start(ctx context.Context) bool {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Warn("monitor loop already running")
		return false
	}

	m.mu.Lock()
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	m.setState(StateRunning)
	if m.deps.Stats != nil {
		m.deps.Stats.SetRunning(true)
	}
	m.log.WithFields(logger.Fields{"interval": m.opts.Interval.String()}).Info("monitor loop started")

	go m.loop(ctx, stopCh, done)
	return true
}

// Stop asks the loop to exit and waits for the current cycle to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh, done := m.stopCh, m.done
	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Done is closed when the most recently started loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

func (m *Monitor) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer func() {
		m.setState(StateStopped)
		if m.deps.Stats != nil {
			m.deps.Stats.SetRunning(false)
		}
		m.running.Store(false)
		m.log.Info("monitor loop stopped")
		close(done)
	}()

	// Cycles are not cut short by shutdown; every call inside is bounded by
	// its own timeout.
	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		m.RunCycle(cycleCtx)

		m.setState(StateSleeping)
		timer := time.NewTimer(m.opts.Interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		m.setState(StateRunning)
	}
}

// RunCycle runs exactly one fetch-process-deliver cycle. A call made while
// another cycle is in progress returns immediately with Skipped set.
func (m *Monitor) RunCycle(ctx context.Context) (res CycleResult) {
	if !m.cycling.CompareAndSwap(false, true) {
		m.log.Warn("cycle already in progress, skipping")
		return CycleResult{Skipped: true}
	}
	defer m.cycling.Store(false)

	start := m.now()
	res.CycleID = uuid.NewString()
	log := m.log.WithFields(logger.Fields{"cycle_id": res.CycleID})

	defer func() {
		res.Duration = m.now().Sub(start)
		m.finishCycle(log, &res)
	}()

	m.setState(StateFetching)
	records, err := m.fetch(ctx)
	logger.IncrementFetch()
	if err != nil {
		res.FetchErr = err
		res.LastError = err.Error()
		log.WithError(err).Error("fetch failed, skipping cycle")
		m.publishError("fetch", res.LastError)
		return res
	}
	res.Fetched = len(records)

	m.setState(StateExtracting)
	listings := m.extractBatch(log, records, &res)
	res.Accepted = len(listings)
	logger.AddListingsSeen(res.Accepted)

	for _, listing := range listings {
		entry := log.WithFields(logger.Fields{"identity_key": listing.IdentityKey})
		out, err := m.processListing(ctx, entry, listing)
		switch out {
		case outcomeAnnounced:
			res.Announced++
		case outcomeAlreadyAnnounced:
			res.AlreadyAnnounced++
		case outcomeInFlight:
			res.InFlight++
		case outcomeDeliveryFailed:
			res.DeliveryFailures++
		case outcomeError:
			res.Errors++
		}
		if err != nil {
			res.LastError = fmt.Sprintf("%s: %v", listing.IdentityKey, err)
		}
	}
	return res
}

func (m *Monitor) fetch(ctx context.Context) (records []*simplejson.Json, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return m.deps.Source.Fetch(fetchCtx)
}

// extractBatch turns raw records into listings, dropping rejects and repeats
// of a key already seen in this batch.
func (m *Monitor) extractBatch(log *logger.Entry, records []*simplejson.Json, res *CycleResult) []models.Listing {
	seen := make(map[string]struct{}, len(records))
	listings := make([]models.Listing, 0, len(records))
	for i, raw := range records {
		listing, err := m.extractOne(raw)
		if err != nil {
			res.Rejected++
			metrics.IncRejected(rejectReason(err))
			log.WithFields(logger.Fields{"index": i, "reason": err.Error()}).Debug("listing rejected")
			continue
		}
		if _, dup := seen[listing.IdentityKey]; dup {
			res.Duplicates++
			metrics.IncDuplicate()
			log.WithFields(logger.Fields{"identity_key": listing.IdentityKey}).Debug("duplicate listing in batch")
			continue
		}
		seen[listing.IdentityKey] = struct{}{}
		listings = append(listings, listing)
	}
	return listings
}

func (m *Monitor) extractOne(raw *simplejson.Json) (listing models.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract panicked: %v", r)
		}
	}()
	return m.deps.Extractor.Extract(raw)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, extract.ErrNoIdentity):
		return "no_identity"
	case errors.Is(err, extract.ErrUnknownName):
		return "unknown_name"
	default:
		return "malformed"
	}
}

// processListing delivers and records one listing. Panics and errors stay
// inside this listing.
func (m *Monitor) processListing(ctx context.Context, log *logger.Entry, listing models.Listing) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = outcomeError
			err = fmt.Errorf("panic: %v", r)
			log.WithFields(logger.Fields{"panic": fmt.Sprint(r)}).Error("listing processing panicked")
			m.publishError("process", err.Error())
		}
	}()

	key := listing.IdentityKey
	announced, err := m.isAnnounced(ctx, key)
	if err != nil {
		log.WithError(err).Error("announcement lookup failed")
		return outcomeError, err
	}
	if announced {
		return outcomeAlreadyAnnounced, nil
	}

	release, ok := m.deps.Store.Claim(key)
	if !ok {
		log.Debug("listing is being delivered by another run")
		return outcomeInFlight, nil
	}
	defer release()

	// The holder of a previous claim may have recorded it meanwhile.
	if announced, err = m.isAnnounced(ctx, key); err != nil {
		log.WithError(err).Error("announcement lookup failed")
		return outcomeError, err
	} else if announced {
		return outcomeAlreadyAnnounced, nil
	}

	m.setState(StateDelivering)
	payload := m.deps.Formatter.Format(listing)
	receipt, err := m.deliver(ctx, payload)
	if err != nil {
		metrics.IncDeliveryFailure()
		logger.IncrementDeliveryFailure()
		log.WithError(err).Warn("delivery failed, will retry next cycle")
		return outcomeDeliveryFailed, err
	}

	m.setState(StateRecording)
	recordCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	rec, err := m.deps.Store.RecordAnnouncement(recordCtx, key, listing.DisplayName(), receipt.MessageID)
	if errors.Is(err, store.ErrAlreadyAnnounced) {
		metrics.IncCommitConflict()
		log.WithFields(logger.Fields{"message_id": receipt.MessageID}).Warn("delivered listing was already recorded")
		return outcomeAlreadyAnnounced, nil
	}
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"message_id": receipt.MessageID}).Error("delivered but failed to record announcement")
		return outcomeError, err
	}

	metrics.IncAnnounced()
	logger.IncrementAnnouncement()
	log.WithFields(logger.Fields{
		"name":       rec.DisplayName,
		"message_id": receipt.MessageID,
	}).Info("listing announced")
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(events.New(events.TypeNewToken, rec))
	}
	return outcomeAnnounced, nil
}

func (m *Monitor) isAnnounced(ctx context.Context, key string) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.deps.Store.IsAnnounced(lookupCtx, key)
}

func (m *Monitor) deliver(ctx context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error) {
	deliverCtx, cancel := context.WithTimeout(ctx, m.opts.DeliverTimeout)
	defer cancel()
	if payload.Image != nil {
		return m.deps.Notifier.DeliverWithImage(deliverCtx, payload)
	}
	return m.deps.Notifier.Deliver(deliverCtx, payload)
}

func (m *Monitor) finishCycle(log *logger.Entry, res *CycleResult) {
	if m.running.Load() {
		m.setState(StateRunning)
	} else {
		m.setState(StateIdle)
	}

	metrics.ReportCycle(m.deps.Log, metrics.CycleReport{
		CycleID:          res.CycleID,
		Fetched:          res.Fetched,
		Accepted:         res.Accepted,
		Rejected:         res.Rejected,
		AlreadyAnnounced: res.AlreadyAnnounced,
		Announced:        res.Announced,
		DeliveryFailures: res.DeliveryFailures,
		Duplicates:       res.Duplicates,
		Duration:         res.Duration,
		FetchFailed:      res.FetchErr != nil,
	})

	if m.deps.Stats == nil {
		return
	}
	sum := stats.CycleSummary{
		FinishedAt:       m.now(),
		Seen:             res.Accepted - res.AlreadyAnnounced,
		Announced:        res.Announced,
		DeliveryFailures: res.DeliveryFailures,
	}
	if res.LastError != "" {
		msg := res.LastError
		sum.LastError = &msg
	}
	m.deps.Stats.RecordCycle(sum)
	if res.FetchErr == nil && res.LastError != "" {
		log.WithFields(logger.Fields{"last_error": res.LastError}).Debug("cycle recorded with listing errors")
	}
}

func (m *Monitor) publishError(stage, msg string) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(events.New(events.TypeMonitorError, map[string]string{
		"stage": stage,
		"error": msg,
	}))
}
