package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteWriteServer decodes every request it receives onto a channel.
func remoteWriteServer(t *testing.T, status int) (*httptest.Server, <-chan *prompb.WriteRequest) {
	t.Helper()
	received := make(chan *prompb.WriteRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "0.1.0", r.Header.Get("X-Prometheus-Remote-Write-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &req))
		received <- &req
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, received
}

func findLabel(labels []prompb.Label, name string) string {
	for _, l := range labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func findSeries(t *testing.T, req *prompb.WriteRequest, name string, labels map[string]string) prompb.TimeSeries {
	t.Helper()
	for _, ts := range req.Timeseries {
		if findLabel(ts.Labels, "__name__") != name {
			continue
		}
		match := true
		for k, v := range labels {
			if findLabel(ts.Labels, k) != v {
				match = false
			}
		}
		if match {
			return ts
		}
	}
	t.Fatalf("series %s %v not found", name, labels)
	return prompb.TimeSeries{}
}

func TestNewPushRegistry(t *testing.T) {
	r := NewPushRegistry(PushConfig{URL: "http://localhost:8428/"})
	assert.Equal(t, "http://localhost:8428/api/v1/write", r.url)
	assert.Equal(t, DefaultTimeout, r.timeout)

	r = NewPushRegistry(PushConfig{URL: "http://vm", Timeout: time.Second})
	assert.Equal(t, time.Second, r.timeout)
}

func TestPushRegistry_UpdatesAreBuffered(t *testing.T) {
	r := NewPushRegistry(PushConfig{URL: "http://127.0.0.1:1"})

	g, err := r.NewGauge(prometheus.GaugeOpts{Name: "registered_devices"})
	require.NoError(t, err)
	g.Set(3)
	g.Set(4)

	c, err := r.NewCounterVec(prometheus.CounterOpts{Name: "transitions_total"}, []string{"operation"})
	require.NoError(t, err)
	c.With(prometheus.Labels{"operation": "begin_suspend"}).Inc()
	c.With(prometheus.Labels{"operation": "begin_suspend"}).Inc()
	c.With(prometheus.Labels{"operation": "finish_resume"}).Inc()

	assert.Equal(t, 3, r.Pending())
}

func TestPushRegistry_FlushEmptyDoesNothing(t *testing.T) {
	r := NewPushRegistry(PushConfig{URL: "http://127.0.0.1:1"})
	assert.NoError(t, r.Flush(context.Background()))
}

func TestPushRegistry_Flush(t *testing.T) {
	server, received := remoteWriteServer(t, http.StatusNoContent)

	r := NewPushRegistry(PushConfig{
		URL:      server.URL,
		Prefix:   "dpm",
		Job:      "pmctl",
		Instance: "host1",
	})
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }

	g, err := r.NewGaugeVec(prometheus.GaugeOpts{Name: "phase_duration_seconds"}, []string{"phase", "message"})
	require.NoError(t, err)
	g.With(prometheus.Labels{"phase": "suspend", "message": "suspend"}).Set(0.25)

	c, err := r.NewCounter(prometheus.CounterOpts{Name: "cycles_total"})
	require.NoError(t, err)
	c.Inc()
	c.Add(2)

	require.NoError(t, r.Flush(context.Background()))

	select {
	case req := <-received:
		require.Len(t, req.Timeseries, 2)

		ts := findSeries(t, req, "dpm_phase_duration_seconds", map[string]string{"phase": "suspend"})
		assert.Equal(t, "pmctl", findLabel(ts.Labels, "job"))
		assert.Equal(t, "host1", findLabel(ts.Labels, "instance"))
		assert.Equal(t, "suspend", findLabel(ts.Labels, "message"))
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, 0.25, ts.Samples[0].Value)
		assert.Equal(t, int64(1700000000000), ts.Samples[0].Timestamp)

		ts = findSeries(t, req, "dpm_cycles_total", nil)
		assert.Equal(t, 3.0, ts.Samples[0].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for remote write")
	}
}

func TestPushRegistry_CountersStayCumulative(t *testing.T) {
	server, received := remoteWriteServer(t, http.StatusOK)
	r := NewPushRegistry(PushConfig{URL: server.URL})

	c, err := r.NewCounter(prometheus.CounterOpts{Name: "failures_total"})
	require.NoError(t, err)

	c.Inc()
	require.NoError(t, r.Flush(context.Background()))
	c.Inc()
	require.NoError(t, r.Flush(context.Background()))

	first := <-received
	second := <-received
	assert.Equal(t, 1.0, first.Timeseries[0].Samples[0].Value)
	assert.Equal(t, 2.0, second.Timeseries[0].Samples[0].Value)
}

func TestPushRegistry_FlushErrorStatus(t *testing.T) {
	server, _ := remoteWriteServer(t, http.StatusBadRequest)
	r := NewPushRegistry(PushConfig{URL: server.URL})

	g, err := r.NewGauge(prometheus.GaugeOpts{Name: "x"})
	require.NoError(t, err)
	g.Set(1)

	err = r.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestPushCounter_NegativePanics(t *testing.T) {
	r := NewPushRegistry(PushConfig{URL: "http://127.0.0.1:1"})
	c, err := r.NewCounter(prometheus.CounterOpts{Name: "x"})
	require.NoError(t, err)
	assert.Panics(t, func() { c.Add(-1) })
}

func TestSeriesKey_OrderIndependent(t *testing.T) {
	a := seriesKey("m", map[string]string{"a": "1", "b": "2"})
	b := seriesKey("m", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, seriesKey("m", map[string]string{"a": "1"}))
}

func TestScrapeRegistry(t *testing.T) {
	registry, err := NewScrapeRegistry("dpm")
	require.NoError(t, err)

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "registered_devices", Help: "Devices."})
	require.NoError(t, err)
	gauge.Set(42)

	counter, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "callback_failures_total", Help: "Failures."}, []string{"phase"})
	require.NoError(t, err)
	counter.With(prometheus.Labels{"phase": "suspend"}).Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "dpm_registered_devices 42")
	assert.Contains(t, body, `dpm_callback_failures_total{phase="suspend"} 1`)
	assert.Contains(t, body, "dpm_uptime_seconds")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestScrapeRegistry_DuplicateRegistration(t *testing.T) {
	registry, err := NewScrapeRegistry("")
	require.NoError(t, err)

	_, err = registry.NewGauge(prometheus.GaugeOpts{Name: "dup", Help: "d"})
	require.NoError(t, err)
	_, err = registry.NewGauge(prometheus.GaugeOpts{Name: "dup", Help: "d"})
	assert.Error(t, err)
}
