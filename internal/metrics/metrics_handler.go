package metrics

import (
	"sync"
	"time"

	"launchwatch/logger"
)

// cycleIDField is lifted out of the metric fields into Metric.CycleID so it
// never becomes a CloudWatch dimension.
const cycleIDField = "cycle_id"

// Metric is one pipeline sample, optionally tied to the poll cycle that
// produced it.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	CycleID   string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler receives every recorded Metric. The dashboard history is the
// main consumer.
type MetricHandler func(Metric)

type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	lastID   MetricHandlerID
	handlers map[MetricHandlerID]MetricHandler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[MetricHandlerID]MetricHandler)}
}

func (r *handlerRegistry) add(h MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	r.handlers[r.lastID] = h
	return r.lastID
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// snapshot copies the handlers so none runs under the lock.
func (r *handlerRegistry) snapshot() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

var registered = newHandlerRegistry()

// RegisterMetricHandler subscribes handler to every recorded metric. A nil
// handler is ignored and yields the zero id.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return registered.add(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		registered.remove(id)
	}
}

// recordMetric builds the Metric, writes the debug line and fans it out to
// the registered handlers. Unnamed metrics are dropped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}
	if id, ok := m.Fields[cycleIDField].(string); ok {
		m.CycleID = id
		delete(m.Fields, cycleIDField)
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
		cycleIDField:  m.CycleID,
	}).WithFields(m.Fields).Debug("metric")

	dispatchMetric(m)
	return m, true
}

func dispatchMetric(m Metric) {
	for _, h := range registered.snapshot() {
		h(m)
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields)+1)
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
