// Package metrics exposes generation run counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"svw.info/connections/internal/ports"
)

const namespace = "connections"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	generated       prometheus.Counter
	abandoned       *prometheus.CounterVec
	attempts        prometheus.Histogram
	assemblySeconds prometheus.Histogram
	viableThemes    *prometheus.GaugeVec
	reconciled      prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		generated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puzzles_generated_total",
			Help:      "Puzzles persisted or staged by generation runs.",
		}),
		abandoned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puzzles_abandoned_total",
			Help:      "Puzzle slots abandoned, by reason.",
		}, []string{"reason"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_attempts",
			Help:      "Whole-puzzle attempts needed per assembly.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		assemblySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_duration_seconds",
			Help:      "Time spent assembling one candidate.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		viableThemes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viable_themes",
			Help:      "Themes with at least four unused words, by tier.",
		}, []string{"tier"}),
		reconciled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_reconciled_total",
			Help:      "Words marked used by ledger reconciliation.",
		}),
	}
}

func (m *Metrics) ObserveAssembly(st ports.Stats) {
	if m == nil {
		return
	}
	m.attempts.Observe(float64(st.Attempts))
	m.assemblySeconds.Observe(st.Duration.Seconds())
}

func (m *Metrics) PuzzleGenerated() {
	if m == nil {
		return
	}
	m.generated.Inc()
}

func (m *Metrics) PuzzleAbandoned(reason string) {
	if m == nil {
		return
	}
	m.abandoned.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetViableThemes(tier string, n int) {
	if m == nil {
		return
	}
	m.viableThemes.WithLabelValues(tier).Set(float64(n))
}

func (m *Metrics) WordsReconciled(n int) {
	if m == nil || n == 0 {
		return
	}
	m.reconciled.Add(float64(n))
}
