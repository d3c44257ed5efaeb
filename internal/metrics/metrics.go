// Package metrics records balance engine counters with Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recalculation modes.
const (
	ModeCached = "cached"
	ModeFull   = "full"
	ModeUsers  = "users"
	ModeBill   = "bill"
	ModeDelta  = "delta"
)

// Mutation results.
const (
	ResultOK         = "ok"
	ResultRecovered  = "recovered"
	ResultRolledBack = "rolled_back"
	ResultNotFound   = "not_found"
	ResultInvalid    = "invalid"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Recalculations       *prometheus.CounterVec
	Fallbacks            *prometheus.CounterVec
	BillMutations        *prometheus.CounterVec
	SplitMismatches      prometheus.Counter
	SettlementRejections prometheus.Counter
}

// New builds the collectors and registers them with reg. A nil registerer
// leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Recalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pare_balance_recalculations_total",
			Help: "Balance computations by mode.",
		}, []string{"mode"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pare_balance_fallbacks_total",
			Help: "Incremental balance paths that degraded to a full recalculation.",
		}, []string{"reason"}),
		BillMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pare_bill_mutations_total",
			Help: "Bill mutations by operation and result.",
		}, []string{"op", "result"}),
		SplitMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pare_bill_split_mismatches_total",
			Help: "Bills whose splits do not sum to the bill total.",
		}),
		SettlementRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pare_settlement_rejections_total",
			Help: "Generated settlement plans that failed validation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Recalculations,
			m.Fallbacks,
			m.BillMutations,
			m.SplitMismatches,
			m.SettlementRejections,
		)
	}
	return m
}

func (m *Metrics) Recalculated(mode string) {
	if m == nil {
		return
	}
	m.Recalculations.WithLabelValues(mode).Inc()
}

func (m *Metrics) FellBack(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) Mutated(op, result string) {
	if m == nil {
		return
	}
	m.BillMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SplitMismatch() {
	if m == nil {
		return
	}
	m.SplitMismatches.Inc()
}

func (m *Metrics) SettlementRejected() {
	if m == nil {
		return
	}
	m.SettlementRejections.Inc()
}
