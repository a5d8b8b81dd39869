package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

var (
	metricUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visual_runner",
		Name:      "units_total",
		Help:      "Run units finished, by final status.",
	}, []string{"status"})
	metricAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visual_runner",
		Name:      "attempts_total",
		Help:      "Attempts started across all run units.",
	})
	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visual_runner",
		Name:      "retries_total",
		Help:      "Attempts that were retries of a failed attempt.",
	})
	metricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visual_runner",
		Name:      "attempt_failures_total",
		Help:      "Failed attempts, by error category.",
	}, []string{"category"})
	metricSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visual_runner",
		Name:      "sessions_open",
		Help:      "Browser sessions currently open.",
	})
	metricUnitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visual_runner",
		Name:      "unit_duration_seconds",
		Help:      "Wall time per run unit including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

func recordAttempt(attempt int) {
	metricAttempts.Inc()
	if attempt > 1 {
		metricRetries.Inc()
	}
}

func recordAttemptFailure(category core.ErrorCategory) {
	metricFailures.WithLabelValues(category.String()).Inc()
}

func recordSessionOpen() {
	metricSessionsOpen.Inc()
}

func recordSessionClose() {
	metricSessionsOpen.Dec()
}

func recordUnit(res *core.Result) {
	metricUnits.WithLabelValues(res.Status.String()).Inc()
	metricUnitDuration.Observe(res.Duration.Seconds())
}
