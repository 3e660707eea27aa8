package progress

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports progress as Prometheus gauges and counters, registered
// under a caller-supplied namespace so multiple backup jobs in one process
// don't collide.
type Metrics struct {
	bytesProcessed *prometheus.GaugeVec
	bytesTotal     *prometheus.GaugeVec
	phasesFinished *prometheus.CounterVec
}

// NewMetrics creates and registers the gauges/counters under reg. Passing a
// nil reg uses the default registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		bytesProcessed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_bytes_processed",
			Help:      "Bytes processed so far in the current phase.",
		}, []string{"phase"}),
		bytesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_bytes_total",
			Help:      "Total bytes expected for the current phase.",
		}, []string{"phase"}),
		phasesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_finished_total",
			Help:      "Number of times each phase has completed.",
		}, []string{"phase"}),
	}

	reg.MustRegister(m.bytesProcessed, m.bytesTotal, m.phasesFinished)
	return m
}

func (m *Metrics) Report(phase Phase, current, total int64) {
	m.bytesProcessed.WithLabelValues(string(phase)).Set(float64(current))
	m.bytesTotal.WithLabelValues(string(phase)).Set(float64(total))
}

func (m *Metrics) Finish(phase Phase) {
	m.phasesFinished.WithLabelValues(string(phase)).Inc()
}

var _ Reporter = (*Metrics)(nil)
