// Package metrics provides Prometheus metrics for quoting and knowledge
// refreshes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quote metrics
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelquote_quotes_total",
			Help: "Quotation requests by outcome (completed or failure kind)",
		},
		[]string{"outcome"},
	)

	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panelquote_quote_duration_seconds",
			Help:    "Time taken to compute a quotation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"outcome"},
	)

	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelquote_source_conflicts_total",
			Help: "Source disagreements surfaced on completed quotations",
		},
		[]string{"winner", "other"},
	)

	// Knowledge metrics
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelquote_knowledge_refreshes_total",
			Help: "Knowledge snapshot refresh attempts by status",
		},
		[]string{"status"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panelquote_knowledge_refresh_duration_seconds",
			Help:    "Time taken to load all knowledge sources",
			Buckets: prometheus.DefBuckets,
		},
	)

	SourceRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panelquote_knowledge_records",
			Help: "Records in the current snapshot per source and type",
		},
		[]string{"source", "type"},
	)
)

// RecordQuote records one quotation outcome.
func RecordQuote(outcome string, duration time.Duration) {
	QuotesTotal.WithLabelValues(outcome).Inc()
	QuoteDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordConflict records one surfaced source disagreement.
func RecordConflict(winner, other string) {
	ConflictsTotal.WithLabelValues(winner, other).Inc()
}

// RecordRefresh records a refresh attempt.
func RecordRefresh(status string, duration time.Duration) {
	RefreshesTotal.WithLabelValues(status).Inc()
	RefreshDuration.Observe(duration.Seconds())
}

// SetSourceRecords publishes the record counts of one source.
func SetSourceRecords(source string, products, accessories, rules int) {
	SourceRecords.WithLabelValues(source, "products").Set(float64(products))
	SourceRecords.WithLabelValues(source, "accessories").Set(float64(accessories))
	SourceRecords.WithLabelValues(source, "bom_rules").Set(float64(rules))
}

// Timer is a helper for measuring duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
