// Package metrics exposes Prometheus counters and a gauge for
// the dispatch/retry/timeout/kick/epoch concerns of the OSD client.
// Metrics is a nil-safe interface: when disabled, every method is a
// no-op, so instrumentation costs nothing when unused.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the instrumentation surface for request lifecycle, retry,
// timeout, kick and map-epoch events. The dispatcher, reply handler, map
// handler and timeout worker do not call it.
type Metrics interface {
	RequestStarted()
	RequestCompleted(resultOK bool)
	Retry()
	Timeout()
	Kick()
	Epoch(epoch uint32)
}

// disabled is the nil-safe no-op implementation returned by Disabled.
type disabled struct{}

func (disabled) RequestStarted()          {}
func (disabled) RequestCompleted(bool)    {}
func (disabled) Retry()                   {}
func (disabled) Timeout()                 {}
func (disabled) Kick()                    {}
func (disabled) Epoch(uint32)             {}

// Disabled returns a Metrics implementation whose every method is a
// no-op.
func Disabled() Metrics { return disabled{} }

// prometheusMetrics is the real implementation, registered through
// promauto against a caller-supplied registerer.
type prometheusMetrics struct {
	requestsStarted   prometheus.Counter
	requestsCompleted *prometheus.CounterVec
	retries           prometheus.Counter
	timeouts          prometheus.Counter
	kicks             prometheus.Counter
	epoch             prometheus.Gauge
}

// New registers and returns a Prometheus-backed Metrics implementation.
func New(reg prometheus.Registerer) Metrics {
	factory := promauto.With(reg)
	return &prometheusMetrics{
		requestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "osdc_requests_started_total",
			Help: "Total requests registered with the dispatcher.",
		}),
		requestsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osdc_requests_completed_total",
			Help: "Total requests that reached a terminal state, by outcome.",
		}, []string{"result"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "osdc_retries_total",
			Help: "Total kick-driven resends.",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "osdc_timeouts_total",
			Help: "Total requests that tripped the timeout sweep.",
		}),
		kicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "osdc_kicks_total",
			Help: "Total kick_requests invocations.",
		}),
		epoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "osdc_map_epoch",
			Help: "Current osd map epoch.",
		}),
	}
}

func (m *prometheusMetrics) RequestStarted() { m.requestsStarted.Inc() }

func (m *prometheusMetrics) RequestCompleted(resultOK bool) {
	label := "ok"
	if !resultOK {
		label = "error"
	}
	m.requestsCompleted.WithLabelValues(label).Inc()
}

func (m *prometheusMetrics) Retry()   { m.retries.Inc() }
func (m *prometheusMetrics) Timeout() { m.timeouts.Inc() }
func (m *prometheusMetrics) Kick()    { m.kicks.Inc() }
func (m *prometheusMetrics) Epoch(epoch uint32) { m.epoch.Set(float64(epoch)) }
