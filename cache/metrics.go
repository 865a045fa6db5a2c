package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "cache",
		Name:      "request_results_total",
	}, []string{"cache", "result"})

	InvalidatedKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "cache",
		Name:      "invalidated_keys_total",
	}, []string{"cache"})
)

// Metrics counts cache outcomes for a single cache instance.
type Metrics struct {
	name          string
	hits          atomic.Uint64
	misses        atomic.Uint64
	errors        atomic.Uint64
	invalidations atomic.Uint64
}

type MetricsSnapshot struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Errors        uint64  `json:"errors"`
	Invalidations uint64  `json:"invalidations"`
	HitRate       float64 `json:"hitRate"`
}

func NewMetrics(name string) *Metrics {
	return &Metrics{name: name}
}

func (m *Metrics) Hit() {
	m.hits.Add(1)
	RequestResults.WithLabelValues(m.name, "hit").Inc()
}

func (m *Metrics) Miss() {
	m.misses.Add(1)
	RequestResults.WithLabelValues(m.name, "miss").Inc()
}

func (m *Metrics) Error() {
	m.errors.Add(1)
	RequestResults.WithLabelValues(m.name, "error").Inc()
}

func (m *Metrics) Invalidate(n int) {
	if n < 1 {
		n = 1
	}
	m.invalidations.Add(uint64(n))
	InvalidatedKeys.WithLabelValues(m.name).Add(float64(n))
}

func (m *Metrics) Stats() MetricsSnapshot {
	s := MetricsSnapshot{
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		Errors:        m.errors.Load(),
		Invalidations: m.invalidations.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
