package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rubistv/viewertrack/server/internal/registry"
)

const namespace = "viewertrack"

var (
	connectionsDesc = prometheus.NewDesc(
		namespace+"_connections",
		"Number of live WebSocket sessions.",
		nil, nil,
	)
	viewersDesc = prometheus.NewDesc(
		namespace+"_viewers",
		"Number of sessions subscribed to any channel.",
		nil, nil,
	)
	channelViewersDesc = prometheus.NewDesc(
		namespace+"_channel_viewers",
		"Number of sessions subscribed to a channel.",
		[]string{"channel"}, nil,
	)
)

// Collector reports registry counts at scrape time.
type Collector struct {
	reg *registry.Registry
}

// NewCollector returns a Collector reading from reg.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{reg: reg}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- connectionsDesc
	ch <- viewersDesc
	ch <- channelViewersDesc
}

// Collect implements prometheus.Collector. All values come from one snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.reg.Snapshot()
	ch <- prometheus.MustNewConstMetric(connectionsDesc, prometheus.GaugeValue, float64(snap.TotalSessions))
	ch <- prometheus.MustNewConstMetric(viewersDesc, prometheus.GaugeValue, float64(snap.TotalViewers))
	for _, cc := range snap.Channels {
		ch <- prometheus.MustNewConstMetric(channelViewersDesc, prometheus.GaugeValue, float64(cc.Viewers), cc.Channel)
	}
}

// Recorder counts hub broadcast activity. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	broadcasts   prometheus.Counter
	pushFailures prometheus.Counter
}

// NewRecorder creates a Recorder and registers its counters with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Number of channel_viewers broadcasts fanned out.",
		}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failures_total",
			Help:      "Number of per-session pushes that could not be queued.",
		}),
	}
	if err := reg.Register(r.broadcasts); err != nil {
		return nil, fmt.Errorf("metrics: register broadcasts counter: %w", err)
	}
	if err := reg.Register(r.pushFailures); err != nil {
		return nil, fmt.Errorf("metrics: register push failures counter: %w", err)
	}
	return r, nil
}

// Broadcast records one fan-out.
func (r *Recorder) Broadcast() {
	if r == nil {
		return
	}
	r.broadcasts.Inc()
}

// PushFailed records one failed per-session send.
func (r *Recorder) PushFailed() {
	if r == nil {
		return
	}
	r.pushFailures.Inc()
}

// Metrics bundles the Prometheus registry serving /metrics with the hub's
// Recorder.
type Metrics struct {
	Registry *prometheus.Registry
	Recorder *Recorder
}

// New builds a Prometheus registry with the viewer Collector, the hub
// Recorder and the standard Go runtime and process collectors.
func New(reg *registry.Registry) (*Metrics, error) {
	pr := prometheus.NewRegistry()
	if err := pr.Register(NewCollector(reg)); err != nil {
		return nil, fmt.Errorf("metrics: register viewer collector: %w", err)
	}
	if err := pr.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("metrics: register go collector: %w", err)
	}
	if err := pr.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("metrics: register process collector: %w", err)
	}
	rec, err := NewRecorder(pr)
	if err != nil {
		return nil, err
	}
	return &Metrics{Registry: pr, Recorder: rec}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
