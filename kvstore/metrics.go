package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "kvstore",
		Name:      "request_results_total",
	}, []string{"op", "status"})

	RequestDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Subsystem: "kvstore",
		Name:      "request_duration_seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
	}, []string{"op"})
)

func ObserveError(op string, err error) {
	switch {
	case err == nil, errors.Is(err, ErrKeyNotFound):
		RequestResults.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		RequestResults.WithLabelValues(op, "timeout").Inc()
	default:
		RequestResults.WithLabelValues(op, "error").Inc()
	}
}

func ObserveDuration(op string) func() time.Duration {
	return prometheus.NewTimer(RequestDurations.WithLabelValues(op)).ObserveDuration
}
