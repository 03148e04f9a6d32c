package logger

import (
	"context"
	"sync/atomic"
)

// MetricSink receives the numeric metrics logged through LogMetric and the
// runtime report. unit is a CloudWatch-style unit name such as "count".
type MetricSink func(ctx context.Context, component, name, unit string, value float64, fields Fields)

var metricSink atomic.Pointer[MetricSink]

// SetMetricSink installs sink for all loggers. A nil sink disables forwarding.
func SetMetricSink(sink MetricSink) {
	if sink == nil {
		metricSink.Store(nil)
		return
	}
	metricSink.Store(&sink)
}

func emitMetric(ctx context.Context, component, name, unit string, value float64, fields Fields) {
	sink := metricSink.Load()
	if sink == nil {
		return
	}
	(*sink)(ctx, component, name, unit, value, fields)
}
