package models

import "go.uber.org/atomic"

// Metrics stores cache engine statistics
type Metrics struct {
	Hits      *atomic.Int64
	Misses    *atomic.Int64
	Expired   *atomic.Int64
	Writes    *atomic.Int64
	Rejected  *atomic.Int64
	Refreshes *atomic.Int64
	Failures  *atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Hits:      atomic.NewInt64(0),
		Misses:    atomic.NewInt64(0),
		Expired:   atomic.NewInt64(0),
		Writes:    atomic.NewInt64(0),
		Rejected:  atomic.NewInt64(0),
		Refreshes: atomic.NewInt64(0),
		Failures:  atomic.NewInt64(0),
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Expired   int64 `json:"expired"`
	Writes    int64 `json:"writes"`
	Rejected  int64 `json:"rejected"`
	Refreshes int64 `json:"refreshes"`
	Failures  int64 `json:"failures"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:      m.Hits.Load(),
		Misses:    m.Misses.Load(),
		Expired:   m.Expired.Load(),
		Writes:    m.Writes.Load(),
		Rejected:  m.Rejected.Load(),
		Refreshes: m.Refreshes.Load(),
		Failures:  m.Failures.Load(),
	}
}
