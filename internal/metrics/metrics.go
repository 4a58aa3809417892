package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Withdrawals tracks withdrawal outcomes and external call latency. The
// atomic counters always work; the Prometheus collectors are nil until
// Register is called. A nil *Withdrawals is valid and records nothing.
type Withdrawals struct {
	Completed       atomic.Uint64
	Rejected        atomic.Uint64
	Warnings        atomic.Uint64
	TokensWithdrawn atomic.Int64

	outcomes      *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	externalCalls *prometheus.HistogramVec
	circulating   prometheus.Gauge

	registerOnce sync.Once
}

func New() *Withdrawals {
	return &Withdrawals{}
}

// Register registers the collectors with registry. Nil registry is a no-op
// and repeated calls are ignored.
func (m *Withdrawals) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.outcomes = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "founderledger_withdrawals_total",
			Help: "Withdrawal attempts by type and outcome",
		}, []string{"type", "outcome"})

		m.tokens = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "founderledger_tokens_withdrawn_total",
			Help: "Tokens committed to the ledger by leg",
		}, []string{"leg"})

		m.externalCalls = factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "founderledger_external_call_seconds",
			Help:    "Latency of bank, blockchain and exchange rate calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"rail", "result"})

		m.circulating = factory.NewGauge(prometheus.GaugeOpts{
			Name: "founderledger_circulating_tokens",
			Help: "Tokens in circulation",
		})
	})
}

// Outcome counts one finished withdrawal. outcome is completed, rejected or
// completed_with_warning.
func (m *Withdrawals) Outcome(typ, outcome string) {
	if m == nil {
		return
	}
	switch outcome {
	case "completed":
		m.Completed.Add(1)
	case "completed_with_warning":
		m.Completed.Add(1)
		m.Warnings.Add(1)
	default:
		m.Rejected.Add(1)
	}
	if m.outcomes != nil {
		m.outcomes.WithLabelValues(typ, outcome).Inc()
	}
}

// Committed counts tokens committed on one leg.
func (m *Withdrawals) Committed(leg string, amount int64) {
	if m == nil {
		return
	}
	m.TokensWithdrawn.Add(amount)
	if m.tokens != nil {
		m.tokens.WithLabelValues(leg).Add(float64(amount))
	}
}

// External observes one call to a rail.
func (m *Withdrawals) External(rail string, started time.Time, err error) {
	if m == nil || m.externalCalls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.externalCalls.WithLabelValues(rail, result).Observe(time.Since(started).Seconds())
}

func (m *Withdrawals) Circulating(n int64) {
	if m == nil || m.circulating == nil {
		return
	}
	m.circulating.Set(float64(n))
}
