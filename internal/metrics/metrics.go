package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Post kinds used as label values
const (
	KindOriginal = "original"
	KindReply    = "reply"
)

// Collector holds the bot's Prometheus metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	skipped   prometheus.Counter
	pending   prometheus.Gauge
	cycles    prometheus.Counter
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postbot_posts_published_total",
				Help: "Posts published, by kind",
			},
			[]string{"kind"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postbot_posts_failed_total",
				Help: "Failed platform operations, by post kind and failure reason",
			},
			[]string{"kind", "reason"},
		),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postbot_replies_skipped_total",
			Help: "Reply items skipped because the target had no post",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postbot_queue_pending",
			Help: "Posts left in the pending queue",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postbot_cycles_completed_total",
			Help: "Daily cycles completed since start",
		}),
	}

	reg.MustRegister(c.published, c.failed, c.skipped, c.pending, c.cycles)
	return c
}

func (c *Collector) Published(kind string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(kind).Inc()
}

func (c *Collector) Failed(kind, reason string) {
	if c == nil {
		return
	}
	c.failed.WithLabelValues(kind, reason).Inc()
}

func (c *Collector) Skipped() {
	if c == nil {
		return
	}
	c.skipped.Inc()
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

func (c *Collector) CycleCompleted() {
	if c == nil {
		return
	}
	c.cycles.Inc()
}
