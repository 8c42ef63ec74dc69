package cart

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelOp     = "op"
	labelResult = "result"

	resultOK       = "ok"
	resultError    = "error"
	resultNoop     = "noop"
	resultNotFound = "not_found"
)

type Metrics struct {
	Mutations     *prometheus.CounterVec
	Writes        *prometheus.CounterVec
	Coalesced     prometheus.Counter
	WriteDuration prometheus.Histogram
	Items         prometheus.Gauge
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_mutations_total",
				Help: "Cart mutations by operation and result",
			},
			[]string{labelOp, labelResult},
		),
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_persist_writes_total",
				Help: "Snapshot writes to the durable slot",
			},
			[]string{labelResult},
		),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_persist_coalesced_total",
			Help: "Snapshots replaced by a newer one before being written",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "cart_persist_write_duration_seconds",
			Help: "Slot write latency",
		}),
		Items: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cart_items",
			Help: "Line items currently in the cart",
		}),
	}

	reg.MustRegister(m.Mutations, m.Writes, m.Coalesced, m.WriteDuration, m.Items)
	return m
}

// The methods below accept a nil receiver so metrics stay optional.

func (m *Metrics) mutation(op, result string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) write(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.Writes.WithLabelValues(result).Inc()
	m.WriteDuration.Observe(d.Seconds())
}

func (m *Metrics) coalesced() {
	if m == nil {
		return
	}
	m.Coalesced.Inc()
}

func (m *Metrics) items(n int) {
	if m == nil {
		return
	}
	m.Items.Set(float64(n))
}
