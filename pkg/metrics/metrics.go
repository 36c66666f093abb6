package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Duration of one full evaluation pass over all active campaigns.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailing_pass_duration_seconds",
			Help:    "Duration of one campaign evaluation pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Dispatch attempts by result.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailing_dispatch_total",
			Help: "Total number of campaign dispatch attempts",
		},
		[]string{"result"}, // result: success, failed
	)

	// Heartbeat for external liveness monitoring: unix time of the last
	// completed pass.
	LastPassTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailing_last_pass_timestamp_seconds",
			Help: "Unix timestamp of the last completed evaluation pass",
		},
	)

	AuditLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailing_audit_log_failures_total",
			Help: "Total number of audit log writes that failed",
		},
	)
)

// ObservePass records the duration of a completed pass.
func ObservePass(d time.Duration) {
	PassDuration.Observe(d.Seconds())
}

// IncDispatch counts one dispatch attempt by result.
func IncDispatch(result string) {
	DispatchTotal.WithLabelValues(result).Inc()
}

// Heartbeat marks a completed pass for liveness monitoring.
func Heartbeat(t time.Time) {
	LastPassTime.Set(float64(t.Unix()))
}

// IncAuditLogFailure counts a failed audit log append.
func IncAuditLogFailure() {
	AuditLogFailures.Inc()
}
