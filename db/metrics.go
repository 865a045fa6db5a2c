package db

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueryDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Buckets:   []float64{0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	}, []string{"query"})
	QueryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "db",
		Name:      "query_results_total",
		Help:      "Number of finished queries by outcome. Missing rows and lost conditional updates are not failures.",
	}, []string{"query", "status"})
)

func ObserveDuration(query string) func() time.Duration {
	return prometheus.NewTimer(QueryDurations.WithLabelValues(query)).ObserveDuration
}

// ObserveResult counts a query outcome and passes err through unchanged.
func ObserveResult(query string, err error) error {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrConflict):
		status = "conflict"
	default:
		status = "error"
	}
	QueryResults.WithLabelValues(query, status).Inc()
	return err
}
