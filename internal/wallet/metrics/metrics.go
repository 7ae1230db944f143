package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the wallet capability session.
type Metrics struct {
	// Session outcomes by variant, action and outcome (committed, denied, error)
	SessionOutcome *prometheus.CounterVec

	// Policy denials by kind
	Denials *prometheus.CounterVec

	// Wallets created by variant
	WalletsCreated *prometheus.CounterVec

	// Full session latency including the unit of work
	SessionLatency *prometheus.HistogramVec

	// Idempotency replays rejected before any work was done
	IdempotentReplays prometheus.Counter
}

// New registers the wallet metrics with the default registry. Call it once
// per process.
func New() *Metrics {
	return &Metrics{
		SessionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_session_outcomes_total",
			Help: "Total capability session outcomes by variant, action and outcome",
		}, []string{"variant", "action", "outcome"}),

		Denials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_policy_denials_total",
			Help: "Total policy denials by denial kind",
		}, []string{"kind"}),

		WalletsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_wallets_created_total",
			Help: "Total wallet accounts created by variant",
		}, []string{"variant"}),

		SessionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_session_duration_seconds",
			Help:    "Duration of capability sessions by action",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"action"}),

		IdempotentReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_idempotent_replays_total",
			Help: "Total mutating requests rejected because their idempotency key was already used",
		}),
	}
}

func (m *Metrics) IncrementOutcome(variant, action, outcome string) {
	if m != nil {
		m.SessionOutcome.WithLabelValues(variant, action, outcome).Inc()
	}
}

func (m *Metrics) IncrementDenial(kind string) {
	if m != nil {
		m.Denials.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementWalletCreated(variant string) {
	if m != nil {
		m.WalletsCreated.WithLabelValues(variant).Inc()
	}
}

// ObserveSessionLatency records the total duration of one session.
func (m *Metrics) ObserveSessionLatency(action string, d time.Duration) {
	if m != nil {
		m.SessionLatency.WithLabelValues(action).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementReplay() {
	if m != nil {
		m.IdempotentReplays.Inc()
	}
}
