package metrics

import "launchwatch/logger"

// EmitDropMetric records one event dropped for a subscriber whose buffer was
// full.
func EmitDropMetric(log *logger.Log, subscriber, eventType string) {
	incEventDrop(subscriber)

	fields := logger.Fields{"subscriber": subscriber}
	if eventType != "" {
		fields["event_type"] = eventType
	}
	EmitMetric(log, "events", "event_drops", 1, "counter", fields)
}
