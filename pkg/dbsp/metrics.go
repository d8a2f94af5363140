package dbsp

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dbsp"

// Metrics are the Prometheus collectors of a circuit. A nil *Metrics discards observations.
// Circuits registered with the same registerer share the collectors and are told apart by the
// circuit label.
type Metrics struct {
	ticks        *prometheus.CounterVec
	tickSeconds  *prometheus.HistogramVec
	opSeconds    *prometheus.HistogramVec
	iterations   *prometheus.HistogramVec
	traceBatches *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors. It returns nil if reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	return &Metrics{
		ticks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Number of ticks by result.",
		}, []string{"circuit", "result"})),
		tickSeconds: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"circuit"})),
		opSeconds: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operator_eval_duration_seconds",
			Help:      "Duration of operator evaluations by operator kind.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"kind"})),
		iterations: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fixed_point_iterations",
			Help:      "Number of iterations nested circuits took to reach a fixed point.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}, []string{"circuit"})),
		traceBatches: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "trace_batches",
			Help:      "Number of batches in the traces of stateful operators.",
		}, []string{"circuit", "node"})),
	}
}

// register registers a collector, or returns the already registered one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(errors.Wrap(err, "register metrics"))
	}
	return c
}

func (m *Metrics) observeTick(circuit, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(circuit, result).Inc()
	m.tickSeconds.WithLabelValues(circuit).Observe(d.Seconds())
}

func (m *Metrics) observeOp(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.opSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) observeIterations(circuit string, n int) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(circuit).Observe(float64(n))
}

func (m *Metrics) setTraceBatches(circuit, node string, n int) {
	if m == nil {
		return
	}
	m.traceBatches.WithLabelValues(circuit, node).Set(float64(n))
}
