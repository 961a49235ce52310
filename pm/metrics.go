package pm

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/dpm/metrics"
)

// Metrics records transition metrics. A nil *Metrics records nothing.
type Metrics struct {
	phaseDuration    metrics.GaugeVec
	callbackFailures metrics.CounterVec
	transitions      metrics.CounterVec
	devices          metrics.Gauge
}

// NewMetrics registers the transition metrics with reg.
func NewMetrics(reg metrics.Registry) (*Metrics, error) {
	phaseDuration, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phase_duration_seconds",
		Help: "Wall time of the most recent run of each phase.",
	}, []string{"phase", "message"})
	if err != nil {
		return nil, fmt.Errorf("creating phase duration gauge: %w", err)
	}

	callbackFailures, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "callback_failures_total",
		Help: "Device callbacks that returned an error or panicked.",
	}, []string{"phase", "tier"})
	if err != nil {
		return nil, fmt.Errorf("creating callback failure counter: %w", err)
	}

	transitions, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "transitions_total",
		Help: "Controller operations by outcome.",
	}, []string{"operation", "result"})
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	devices, err := reg.NewGauge(prometheus.GaugeOpts{
		Name: "registered_devices",
		Help: "Devices currently in the registry.",
	})
	if err != nil {
		return nil, fmt.Errorf("creating registered devices gauge: %w", err)
	}

	return &Metrics{
		phaseDuration:    phaseDuration,
		callbackFailures: callbackFailures,
		transitions:      transitions,
		devices:          devices,
	}, nil
}

func (m *Metrics) phaseDone(phase Phase, msg Message, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.With(prometheus.Labels{"phase": phase.String(), "message": msg.String()}).Set(elapsed.Seconds())
}

func (m *Metrics) callbackFailed(phase Phase, tier Tier) {
	if m == nil {
		return
	}
	m.callbackFailures.With(prometheus.Labels{"phase": phase.String(), "tier": tier.String()}).Inc()
}

func (m *Metrics) operationDone(op string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.transitions.With(prometheus.Labels{"operation": op, "result": result}).Inc()
}

func (m *Metrics) registered(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}
