package metrics

import (
	"time"

	"launchwatch/logger"
)

// CycleReport summarizes one poll cycle for metric emission.
type CycleReport struct {
	CycleID          string
	Fetched          int
	Accepted         int
	Rejected         int
	AlreadyAnnounced int
	Announced        int
	DeliveryFailures int
	Duplicates       int
	Duration         time.Duration
	FetchFailed      bool
}

// ReportCycle emits the per-cycle metrics and the matching log line.
func ReportCycle(log *logger.Log, report CycleReport) {
	if log == nil {
		log = logger.GetLogger()
	}
	const component = "monitor"

	ObserveFetch(!report.FetchFailed)
	AddListingsSeen(report.Accepted)
	ObserveCycle(report.Duration)

	cycle := logger.Fields{cycleIDField: report.CycleID}
	EmitMetric(log, component, "listings_seen", report.Accepted, "counter", cycle)
	EmitMetric(log, component, "announcements", report.Announced, "counter", cycle)
	EmitMetric(log, component, "delivery_failures", report.DeliveryFailures, "counter", cycle)
	EmitMetric(log, component, "cycle_duration_ms", report.Duration.Milliseconds(), "gauge", logger.Fields{cycleIDField: report.CycleID, "unit": "milliseconds"})

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"cycle_id":          report.CycleID,
		"fetched":           report.Fetched,
		"accepted":          report.Accepted,
		"rejected":          report.Rejected,
		"already_announced": report.AlreadyAnnounced,
		"announced":         report.Announced,
		"delivery_failures": report.DeliveryFailures,
		"duplicates":        report.Duplicates,
		"duration_ms":       report.Duration.Milliseconds(),
	})
	if report.FetchFailed || report.DeliveryFailures > 0 {
		entry.Warn("cycle finished with failures")
		return
	}
	entry.Info("cycle finished")
}
