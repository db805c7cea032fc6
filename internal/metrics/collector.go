// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the webhook service. It renders the text exposition format
// directly.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values. Bucket counts are
// cumulative, and an implicit +Inf bucket equals the total count.
type Histogram struct {
	name   string
	help   string
	labels string
	mu     sync.Mutex
	count  int64
	sum    float64
	bounds []float64
	counts []int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func seriesKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates the counter series for name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Gauge returns or creates the gauge series for name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[key] = g
	return g
}

// Histogram returns or creates the histogram series for name and labels.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{name: name, help: help, labels: labels, bounds: bounds, counts: make([]int64, len(bounds))}
	c.histograms[key] = h
	return h
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

// WriteTo renders every series, sorted by name and labels.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP linegem_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE linegem_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "linegem_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.RLock()
	defer c.mu.RUnlock()

	helpWritten := make(map[string]bool)
	header := func(name, help, typ string) {
		if helpWritten[name] {
			return
		}
		helpWritten[name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	}

	for _, key := range sortedKeys(c.counters) {
		ctr := c.counters[key]
		header(ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}
	for _, key := range sortedKeys(c.gauges) {
		g := c.gauges[key]
		header(g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, key := range sortedKeys(c.histograms) {
		h := c.histograms[key]
		header(h.name, h.help, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, fmt.Sprintf("le=%q", formatBound(le)))), h.counts[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`)), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

func formatBound(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", le)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Pre-defined metrics used across the application ---

var (
	WebhookRequests = Collector.Counter("linegem_webhook_requests_total", "Webhook batches received", "")
	WebhookFailures = Collector.Counter("linegem_webhook_failures_total", "Webhook batches answered with 500", "")
	EventsIgnored   = Collector.Counter("linegem_events_total", "Inbound events by kind", `kind="other"`)
	EventsText      = Collector.Counter("linegem_events_total", "Inbound events by kind", `kind="text"`)
	EventsImage     = Collector.Counter("linegem_events_total", "Inbound events by kind", `kind="image"`)
	EventsDuplicate = Collector.Counter("linegem_events_duplicate_total", "Redelivered events skipped", "")

	AIRequests      = Collector.Counter("linegem_ai_requests_total", "Generative AI requests", "")
	AIErrors        = Collector.Counter("linegem_ai_errors_total", "Generative AI requests that failed", "")
	UploadFailures  = Collector.Counter("linegem_upload_failures_total", "Image uploads that failed", "")
	PersistFailures = Collector.Counter("linegem_persist_failures_total", "Conversation record inserts that failed", "")
	Replies         = Collector.Counter("linegem_replies_total", "Replies sent", "")
	Apologies       = Collector.Counter("linegem_apologies_total", "Apology replies sent after a failure", "")
	InFlightEvents  = Collector.Gauge("linegem_events_in_flight", "Events currently being handled", "")

	AILatency = Collector.Histogram("linegem_ai_latency_seconds", "Generative AI latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	BatchLatency = Collector.Histogram("linegem_webhook_latency_seconds", "Webhook batch handling latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60})
)

// EventKind returns the per-kind event counter.
func EventKind(kind string) *Counter {
	switch kind {
	case "text":
		return EventsText
	case "image":
		return EventsImage
	default:
		return EventsIgnored
	}
}
