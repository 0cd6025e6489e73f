package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors recorded by controllers, the orchestrator and
// the ledger. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveControllers prometheus.Gauge
	Cycles            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	TakeProfitFills   *prometheus.CounterVec
	StopHits          *prometheus.CounterVec
	ControllerExits   *prometheus.CounterVec
	LedgerEvents      *prometheus.CounterVec
	PortCalls         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		ActiveControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smarttrade_active_controllers",
			Help: "Number of position controllers currently running",
		}),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smarttrade_controller_cycles_total",
				Help: "Monitoring cycles executed by position controllers",
			},
			[]string{"result"}, // result: ok|error|panic
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smarttrade_controller_cycle_duration_seconds",
			Help:    "Duration of one monitoring cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		TakeProfitFills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smarttrade_take_profit_fills_total",
				Help: "Take-profit levels executed",
			},
			[]string{"level"},
		),
		StopHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smarttrade_stop_hits_total",
				Help: "Stops executed by kind",
			},
			[]string{"reason"}, // reason: SL|BREAKEVEN|TRAILING_STOP
		),
		ControllerExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smarttrade_controller_exits_total",
				Help: "Position controller exits by final phase",
			},
			[]string{"phase"},
		),
		LedgerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smarttrade_ledger_events_total",
				Help: "Events appended to the portfolio ledger",
			},
			[]string{"type"},
		),
		PortCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smarttrade_execution_port_calls_total",
				Help: "Execution port calls by operation and status",
			},
			[]string{"op", "status"}, // status: success|error
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ActiveControllers,
		m.Cycles,
		m.CycleDuration,
		m.TakeProfitFills,
		m.StopHits,
		m.ControllerExits,
		m.LedgerEvents,
		m.PortCalls,
	)
	return m
}

// Registry exposes the registry for gathering in tests and handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ControllerStarted increments the running controller gauge.
func (m *Metrics) ControllerStarted() {
	if m == nil {
		return
	}
	m.ActiveControllers.Inc()
}

// ControllerExited decrements the gauge and counts the final phase.
func (m *Metrics) ControllerExited(phase string) {
	if m == nil {
		return
	}
	m.ActiveControllers.Dec()
	m.ControllerExits.WithLabelValues(phase).Inc()
}

// ObserveCycle records one monitoring cycle.
func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// TakeProfitFilled counts a take-profit execution.
func (m *Metrics) TakeProfitFilled(level int) {
	if m == nil {
		return
	}
	m.TakeProfitFills.WithLabelValues(strconv.Itoa(level)).Inc()
}

// StopHit counts a stop execution.
func (m *Metrics) StopHit(reason string) {
	if m == nil {
		return
	}
	m.StopHits.WithLabelValues(reason).Inc()
}

// LedgerEvent counts an appended ledger event.
func (m *Metrics) LedgerEvent(eventType string) {
	if m == nil {
		return
	}
	m.LedgerEvents.WithLabelValues(eventType).Inc()
}

// PortCall counts one execution port call.
func (m *Metrics) PortCall(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PortCalls.WithLabelValues(op, status).Inc()
}
