package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "mm_queue_size", Help: "current queue size per mode"},
		[]string{"mode"})
	MatchesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mm_matches_created_total", Help: "matches created"})
	MatchesClosed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mm_matches_closed_total", Help: "matches closed"})
	IssuesReported = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mm_issues_reported_total", Help: "match issues reported"})
	RatingUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mm_rating_updates_total", Help: "per-player rating updates applied"})
	PeriodRollovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mm_rating_period_rollovers_total", Help: "rating period rollovers per mode"},
		[]string{"mode"})
)

func Init() {
	prometheus.MustRegister(QueueSize, MatchesCreated, MatchesClosed,
		IssuesReported, RatingUpdates, PeriodRollovers)
}
