package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the counters the engine reports. All of them are
// updated from connection goroutines, so they rely on the client library's
// own synchronization.
type Metrics struct {
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionsRefused prometheus.Counter
	RequestsTotal      prometheus.Counter
	ResponsesTotal     *prometheus.CounterVec
	BytesRead          prometheus.Counter
	BytesWritten       prometheus.Counter
	RequestDuration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "volant_connections_active",
			Help: "Number of currently served connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "volant_connections_total",
			Help: "Number of accepted connections.",
		}),
		ConnectionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Name: "volant_connections_refused_total",
			Help: "Number of connections refused due to the concurrency cap.",
		}),
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "volant_requests_total",
			Help: "Number of parsed requests.",
		}),
		ResponsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "volant_responses_total",
			Help: "Number of completed responses by status class.",
		}, []string{"class"}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "volant_bytes_read_total",
			Help: "Number of bytes read from peers.",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "volant_bytes_written_total",
			Help: "Number of bytes written to peers.",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "volant_request_duration_seconds",
			Help:    "Wall time between parsing a request head and flushing its response.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NopMetrics returns metrics bound to a private registry nobody scrapes.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// StatusClass maps a status code to its prometheus label ("2xx", "5xx", ...).
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
