package eventlogger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors updated by a Logger.
type Metrics struct {
	EventsEnqueued prometheus.Counter
	EventsDropped  *prometheus.CounterVec
	Flushes        *prometheus.CounterVec
	QueueSize      prometheus.Gauge
	FailedEvents   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagkit_events_enqueued_total",
			Help: "Total number of events accepted into the queue",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagkit_events_dropped_total",
			Help: "Total number of events dropped before sending",
		}, []string{"reason"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagkit_event_flushes_total",
			Help: "Total number of event batch uploads",
		}, []string{"result"}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagkit_event_queue_size",
			Help: "Number of events waiting to be flushed",
		}),
		FailedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagkit_failed_events",
			Help: "Number of events persisted after a failed upload",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EventsEnqueued, m.EventsDropped, m.Flushes, m.QueueSize, m.FailedEvents)
	}
	return m
}

const (
	dropDisabled  = "disabled"
	dropDuplicate = "duplicate"
	dropShutdown  = "shutdown"
	dropEvicted   = "evicted"

	flushSuccess = "success"
	flushFailure = "failure"
)
