package pm

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/metrics"
)

// metricValue returns the value of the series of family name whose labels
// include want.
func metricValue(t *testing.T, reg *metrics.ScrapeRegistry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m, want) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("no series %s %v", name, want)
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestController_Metrics(t *testing.T) {
	reg, err := metrics.NewScrapeRegistry("dpm")
	require.NoError(t, err)
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	c, _ := newTestController(t, WithMetrics(m))
	rec := &recorder{}
	mustRegister(t, c, nil,
		recordingDevice(rec, "ok", nil),
		recordingDevice(rec, "bad", hooks{PhaseSuspend: func(context.Context, *Device) error { return errBoom }}),
	)
	ctx := context.Background()

	assert.Equal(t, 2.0, metricValue(t, reg, "dpm_registered_devices", nil))

	require.Error(t, c.BeginSuspend(ctx, MsgSuspend))
	assert.Equal(t, 1.0, metricValue(t, reg, "dpm_transitions_total",
		map[string]string{"operation": "begin_suspend", "result": "failure"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "dpm_callback_failures_total",
		map[string]string{"phase": "suspend", "tier": "bus"}))

	require.NoError(t, c.FinishResume(ctx, MsgResume))
	assert.Equal(t, 1.0, metricValue(t, reg, "dpm_transitions_total",
		map[string]string{"operation": "finish_resume", "result": "success"}))
	assert.GreaterOrEqual(t, metricValue(t, reg, "dpm_phase_duration_seconds",
		map[string]string{"phase": "complete", "message": "resume"}), 0.0)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.phaseDone(PhaseSuspend, MsgSuspend, 0)
		m.callbackFailed(PhaseSuspend, TierBus)
		m.operationDone("begin_suspend", nil)
		m.registered(3)
	})
}

func TestController_DeviceLoggersAreCaptured(t *testing.T) {
	collector := logging.NewLogCollector(10)
	c, _ := newTestController(t, WithDeviceLoggers(logging.NewCapturingLoggerHook(collector)))
	dev := NewDevice("eth0", Callbacks{Bus: &TierOps{PM: &Ops{
		Suspend: func(ctx context.Context, dev *Device) error {
			dev.Logger().Info("link down")
			return nil
		},
	}}})
	mustRegister(t, c, nil, dev)
	ctx := context.Background()

	require.NoError(t, c.BeginSuspend(ctx, MsgSuspend))
	require.NoError(t, c.FinishResume(ctx, MsgResume))

	logs := collector.GetLogs("eth0")
	require.NotEmpty(t, logs)
	assert.Equal(t, "link down", logs[0].Message)
	assert.Equal(t, "eth0", logs[0].Attributes[logging.DeviceKey])
}
