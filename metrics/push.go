package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second
)

// PushRegistry implements Registry for push-based metrics collection.
//
// Updates only touch an in-memory buffer, so recording a value never blocks
// on the network. Flush sends the latest value of every series in a single
// remote write request.
type PushRegistry struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string
	timeout    time.Duration
	now        func() time.Time

	mu     sync.Mutex
	series map[string]*series
}

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:8428").
	URL string
	// Prefix is the metric name prefix. All metric names will be prefixed with this value
	// followed by an underscore.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// NewPushRegistry creates a new PushRegistry that pushes metrics to the given URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &PushRegistry{
		url:        strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
		httpClient: &http.Client{Timeout: timeout},
		prefix:     cfg.Prefix,
		job:        cfg.Job,
		instance:   cfg.Instance,
		timeout:    timeout,
		now:        time.Now,
		series:     make(map[string]*series),
	}
}

// NewGauge creates a new push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushGauge{reg: r, name: opts.Name}, nil
}

// NewGaugeVec creates a new push-based GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return &pushGaugeVec{reg: r, name: opts.Name, labels: labels}, nil
}

// NewCounter creates a new push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushCounter{reg: r, name: opts.Name}, nil
}

// NewCounterVec creates a new push-based CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return &pushCounterVec{reg: r, name: opts.Name, labels: labels}, nil
}

// Pending returns the number of series waiting to be flushed.
func (r *PushRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.series)
}

// Flush sends the current value of every recorded series. Series are kept
// after a successful flush so counters stay cumulative across flushes.
func (r *PushRegistry) Flush(ctx context.Context) error {
	req := r.writeRequest()
	if len(req.Timeseries) == 0 {
		return nil
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// series is the buffered state of one name and label set.
type series struct {
	name   string
	labels map[string]string
	value  float64
}

func (r *PushRegistry) set(name string, labels map[string]string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(name, labels).value = v
}

func (r *PushRegistry) add(name string, labels map[string]string, v float64) {
	if v < 0 {
		panic("counter cannot decrease in value")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(name, labels).value += v
}

// lookup returns the series for name and labels, creating it. Lock held.
func (r *PushRegistry) lookup(name string, labels map[string]string) *series {
	key := seriesKey(name, labels)
	s, ok := r.series[key]
	if !ok {
		s = &series{name: name, labels: labels}
		r.series[key] = s
	}
	return s
}

func (r *PushRegistry) writeRequest() *prompb.WriteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ts := r.now().UnixMilli()
	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(keys))}
	for _, k := range keys {
		s := r.series[k]
		req.Timeseries = append(req.Timeseries, r.toTimeSeries(s, ts))
	}
	return req
}

// toTimeSeries converts a buffered series to the remote write format.
func (r *PushRegistry) toTimeSeries(s *series, ts int64) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(s.labels)+3)

	name := s.name
	if r.prefix != "" {
		name = r.prefix + "_" + name
	}
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	if r.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: r.job})
	}
	if r.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: r.instance})
	}
	for _, k := range sortedKeys(s.labels) {
		labels = append(labels, prompb.Label{Name: k, Value: s.labels[k]})
	}

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: ts}},
	}
}

type pushGauge struct {
	reg    *PushRegistry
	name   string
	labels map[string]string
}

func (g *pushGauge) Set(v float64) {
	g.reg.set(g.name, g.labels, v)
}

type pushGaugeVec struct {
	reg    *PushRegistry
	name   string
	labels []string
}

func (g *pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return &pushGauge{reg: g.reg, name: g.name, labels: maps.Clone(labels)}
}

type pushCounter struct {
	reg    *PushRegistry
	name   string
	labels map[string]string
}

func (c *pushCounter) Inc() {
	c.Add(1)
}

func (c *pushCounter) Add(v float64) {
	c.reg.add(c.name, c.labels, v)
}

type pushCounterVec struct {
	reg    *PushRegistry
	name   string
	labels []string
}

func (c *pushCounterVec) With(labels prometheus.Labels) Counter {
	return &pushCounter{reg: c.reg, name: c.name, labels: maps.Clone(labels)}
}

// seriesKey identifies a series independently of map iteration order.
func seriesKey(name string, labels map[string]string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range sortedKeys(labels) {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
