package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics exported by the capture pipeline.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsCommitted *prometheus.CounterVec
	EventsRejected  prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsLost      prometheus.Counter
	ParseErrors     prometheus.Counter

	QueueDepth      *prometheus.GaugeVec
	HeapMB          prometheus.Gauge
	ConnectionState prometheus.Gauge
	FeedPaused      prometheus.Gauge
	BatchFlushes    prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_events_received_total",
			Help: "Parsed events entering the pipeline, by variant",
		}, []string{"variant"}),

		EventsCommitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_events_committed_total",
			Help: "Events durably written, by variant",
		}, []string{"variant"}),

		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_events_rejected_total",
			Help: "Events dropped by validation",
		}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_events_dropped_total",
			Help: "Events evicted or timed out at the ingestion queue",
		}),

		EventsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_events_lost_total",
			Help: "Events in batches that exhausted storage retries",
		}),

		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_parse_errors_total",
			Help: "Wire messages that failed to parse",
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "capture_queue_depth",
			Help: "Current ingestion queue depth, by variant",
		}, []string{"variant"}),

		HeapMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_heap_mb",
			Help: "Process heap estimate in MiB from the last governor sample",
		}),

		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_connection_state",
			Help: "Feed connection state (0=disconnected 1=connecting 2=streaming 3=reconnecting 4=failed 5=closed)",
		}),

		FeedPaused: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_feed_paused",
			Help: "1 while the memory governor has the feed paused",
		}),

		BatchFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_batch_flushes_total",
			Help: "Storage sink flush operations",
		}),
	}
}
