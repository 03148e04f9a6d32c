// Prometheus collectors for the listing pipeline:
//
//	#launchwatch_fetch_total{result}
//	#launchwatch_listings_seen_total
//	#launchwatch_listings_rejected_total{reason}
//	#launchwatch_announcements_total
//	#launchwatch_delivery_failures_total
//	#launchwatch_duplicates_total
//	#launchwatch_commit_conflicts_total
//	#launchwatch_cycle_duration_seconds
//	#launchwatch_event_drops_total{subscriber}
//	#go_* and process_* system metrics
//
// Handler exposes them; the dashboard mounts it on /metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once             sync.Once
	registry         *prometheus.Registry
	fetchTotal       *prometheus.CounterVec
	listingsSeen     prometheus.Counter
	listingsRejected *prometheus.CounterVec
	announcements    prometheus.Counter
	deliveryFailures prometheus.Counter
	duplicates       prometheus.Counter
	commitConflicts  prometheus.Counter
	cycleDuration    prometheus.Histogram
	eventDrops       *prometheus.CounterVec
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launchwatch_fetch_total",
			Help: "Upstream feed fetches by result",
		}, []string{"result"})
		listingsSeen = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launchwatch_listings_seen_total",
			Help: "Accepted listings observed in feed batches",
		})
		listingsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launchwatch_listings_rejected_total",
			Help: "Listings skipped by the extractor",
		}, []string{"reason"})
		announcements = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launchwatch_announcements_total",
			Help: "Listings announced and recorded",
		})
		deliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launchwatch_delivery_failures_total",
			Help: "Notifier deliveries that failed",
		})
		duplicates = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launchwatch_duplicates_total",
			Help: "Repeats of an identity key within one feed batch",
		})
		commitConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launchwatch_commit_conflicts_total",
			Help: "Delivered listings whose record was already committed by another writer",
		})
		cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "launchwatch_cycle_duration_seconds",
			Help:    "Duration of one poll cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		})
		eventDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launchwatch_event_drops_total",
			Help: "Events dropped because a subscriber was full",
		}, []string{"subscriber"})

		registry.MustRegister(
			fetchTotal, listingsSeen, listingsRejected, announcements,
			deliveryFailures, duplicates, commitConflicts, cycleDuration, eventDrops,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveFetch(ok bool) {
	if fetchTotal == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	fetchTotal.WithLabelValues(result).Inc()
}

func AddListingsSeen(n int) {
	if listingsSeen != nil && n > 0 {
		listingsSeen.Add(float64(n))
	}
}

func IncRejected(reason string) {
	if listingsRejected != nil {
		listingsRejected.WithLabelValues(reason).Inc()
	}
}

func IncAnnounced() {
	if announcements != nil {
		announcements.Inc()
	}
}

func IncDeliveryFailure() {
	if deliveryFailures != nil {
		deliveryFailures.Inc()
	}
}

func IncDuplicate() {
	if duplicates != nil {
		duplicates.Inc()
	}
}

func IncCommitConflict() {
	if commitConflicts != nil {
		commitConflicts.Inc()
	}
}

func ObserveCycle(d time.Duration) {
	if cycleDuration != nil {
		cycleDuration.Observe(d.Seconds())
	}
}

func incEventDrop(subscriber string) {
	if eventDrops != nil {
		eventDrops.WithLabelValues(subscriber).Inc()
	}
}
