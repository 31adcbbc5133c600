// Package metrics implements the gateway's request counters and their two
// exposition formats.
//
// Counters live in a private Prometheus registry. The /metrics endpoint
// serves a JSON snapshot by default and the Prometheus/OpenMetrics text
// exposition format when the Accept header asks for it, so the same
// registry backs both views.
package metrics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every metric in the registry.
const Namespace = "llamagate"

// Collector owns the gateway's metric instruments.
// All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry
	start    time.Time

	requestsTotal         prometheus.Counter
	requestsSuccess       prometheus.Counter
	requestsError         prometheus.Counter
	requestsAuthenticated prometheus.Counter
	requestsUnauthorized  prometheus.Counter
	bytesSent             prometheus.Counter
	requestsActive        prometheus.Gauge
}

// QueueStats supplies the concurrency gate's live readings for the
// queue-backed metrics.
type QueueStats interface {
	Depth() int64
	Rejections() int64
	WaitSeconds() float64
}

// NewCollector creates a collector with a fresh private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
	}

	counter := func(name, help string) prometheus.Counter {
		m := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Name: name, Help: help,
		})
		c.registry.MustRegister(m)
		return m
	}

	c.requestsTotal = counter("requests_total", "Total proxy requests received.")
	c.requestsSuccess = counter("requests_success", "Proxy requests completed successfully.")
	c.requestsError = counter("requests_error", "Proxy requests that failed.")
	c.requestsAuthenticated = counter("requests_authenticated", "Requests that passed authentication.")
	c.requestsUnauthorized = counter("requests_unauthorized", "Requests rejected by authentication.")
	c.bytesSent = counter("bytes_sent", "Response body bytes streamed to clients.")

	c.requestsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "requests_active",
		Help: "Proxy requests currently in flight.",
	})
	c.registry.MustRegister(c.requestsActive)

	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "uptime_seconds",
		Help: "Seconds since the gateway started.",
	}, func() float64 {
		return time.Since(c.start).Seconds()
	}))

	return c
}

// RegisterQueue wires the concurrency gate's readings into the registry.
// Call once during startup, before the first scrape.
func (c *Collector) RegisterQueue(q QueueStats) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "queue_depth",
		Help: "Admissions currently waiting for a concurrency slot.",
	}, func() float64 { return float64(q.Depth()) }))

	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace, Name: "queue_rejections",
		Help: "Admissions rejected because the wait queue was full.",
	}, func() float64 { return float64(q.Rejections()) }))

	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace, Name: "queue_wait_seconds_total",
		Help: "Total time admissions spent waiting for a slot.",
	}, q.WaitSeconds))
}

// Request lifecycle hooks.

func (c *Collector) RequestStarted()       { c.requestsTotal.Inc(); c.requestsActive.Inc() }
func (c *Collector) RequestFinished()      { c.requestsActive.Dec() }
func (c *Collector) RequestSucceeded()     { c.requestsSuccess.Inc() }
func (c *Collector) RequestFailed()        { c.requestsError.Inc() }
func (c *Collector) RequestAuthenticated() { c.requestsAuthenticated.Inc() }
func (c *Collector) RequestUnauthorized()  { c.requestsUnauthorized.Inc() }

// AddBytesSent records body bytes streamed to a client.
func (c *Collector) AddBytesSent(n int64) {
	if n > 0 {
		c.bytesSent.Add(float64(n))
	}
}

// Snapshot gathers the registry into a flat name→value map with the
// namespace prefix stripped. Used for the JSON view of /metrics and the
// health payload.
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	snap := make(map[string]float64, len(families))
	for _, fam := range families {
		if len(fam.GetMetric()) == 0 {
			continue
		}
		name := strings.TrimPrefix(fam.GetName(), Namespace+"_")
		m := fam.GetMetric()[0]
		switch fam.GetType() {
		case dto.MetricType_COUNTER:
			snap[name] = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			snap[name] = m.GetGauge().GetValue()
		}
	}
	return snap, nil
}

// WantsTextFormat reports whether an Accept header value selects the
// text exposition format over the JSON snapshot.
func WantsTextFormat(accept string) bool {
	return strings.Contains(accept, "text/plain") ||
		strings.Contains(accept, "application/openmetrics-text")
}

// WriteText writes the registry in the Prometheus text exposition format
// (HELP/TYPE/value triplets per metric).
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return fmt.Errorf("encoding metric family %q: %w", fam.GetName(), err)
		}
	}
	return nil
}
