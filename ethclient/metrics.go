package ethclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "rpc",
		Name:      "request_results_total",
	}, []string{"chain_id", "url", "query", "status"})

	RequestDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20},
	}, []string{"chain_id", "url", "query"})

	RateLimitWaits = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Subsystem: "rpc",
		Name:      "rate_limit_wait_seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"chain_id", "url"})
)

func ObserveError(chainID uint64, url, query string, err error) {
	id := strconv.FormatUint(chainID, 10)
	if err != nil {
		var rpcErr rpc.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			RequestResults.WithLabelValues(id, url, query, "timeout").Inc()
		case errors.As(err, &rpcErr):
			RequestResults.WithLabelValues(id, url, query, fmt.Sprintf("error-%d-%s", rpcErr.ErrorCode(), rpcErr.Error())).Inc()
		default:
			RequestResults.WithLabelValues(id, url, query, "error").Inc()
		}
	} else {
		RequestResults.WithLabelValues(id, url, query, "ok").Inc()
	}
}

func ObserveDuration(chainID uint64, url, query string) func() time.Duration {
	return prometheus.NewTimer(RequestDurations.WithLabelValues(strconv.FormatUint(chainID, 10), url, query)).ObserveDuration
}

func ObserveRateLimitWait(chainID uint64, url string) func() time.Duration {
	return prometheus.NewTimer(RateLimitWaits.WithLabelValues(strconv.FormatUint(chainID, 10), url)).ObserveDuration
}
