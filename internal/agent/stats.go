package agent

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds the shared diagnostic counters. The receive loops update them
// with atomic increments; the periodic reporter and the prometheus collector
// only read.
type Stats struct {
	Seen          atomic.Int64
	Matched       atomic.Int64
	Unmatched     atomic.Int64
	BackendErrors atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Seen          int64
	Matched       int64
	Unmatched     int64
	BackendErrors int64
}

// Snapshot reads all counters. Each read is individually atomic; the
// snapshot as a whole is approximate under load, which is fine for a
// diagnostic summary.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Seen:          s.Seen.Load(),
		Matched:       s.Matched.Load(),
		Unmatched:     s.Unmatched.Load(),
		BackendErrors: s.BackendErrors.Load(),
	}
}

var (
	seenDesc = prometheus.NewDesc("totalizer_agent_lines_seen_total",
		"Lines received across all listeners.", nil, nil)
	matchedDesc = prometheus.NewDesc("totalizer_agent_lines_matched_total",
		"Lines matched by a classification rule.", nil, nil)
	unmatchedDesc = prometheus.NewDesc("totalizer_agent_lines_unmatched_total",
		"Lines matching no classification rule.", nil, nil)
	backendErrorsDesc = prometheus.NewDesc("totalizer_agent_backend_errors_total",
		"Backend operations that failed and dropped an event.", nil, nil)
)

func (s *Stats) describe(ch chan<- *prometheus.Desc) {
	ch <- seenDesc
	ch <- matchedDesc
	ch <- unmatchedDesc
	ch <- backendErrorsDesc
}

func (s *Stats) collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	ch <- prometheus.MustNewConstMetric(seenDesc, prometheus.CounterValue, float64(snap.Seen))
	ch <- prometheus.MustNewConstMetric(matchedDesc, prometheus.CounterValue, float64(snap.Matched))
	ch <- prometheus.MustNewConstMetric(unmatchedDesc, prometheus.CounterValue, float64(snap.Unmatched))
	ch <- prometheus.MustNewConstMetric(backendErrorsDesc, prometheus.CounterValue, float64(snap.BackendErrors))
}
