// Package metrics exports session and telemetry counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/telemetry"
)

const namespace = "rmlink"

type ClientSource interface {
	Stat() *client.Stat
	Pending() int
}

type TelemetrySource interface {
	Stat() *telemetry.Stat
}

// Collector reads counters on every scrape, nothing is cached.
// Telemetry source may be nil.
type Collector struct {
	client ClientSource
	sub    TelemetrySource

	sent         *prometheus.Desc
	received     *prometheus.Desc
	frameErrors  *prometheus.Desc
	decodeErrors *prometheus.Desc
	unknown      *prometheus.Desc
	timeouts     *prometheus.Desc
	pending      *prometheus.Desc
	heartbeats   *prometheus.Desc
	telemetry    *prometheus.Desc
	dropped      *prometheus.Desc
}

func NewCollector(c ClientSource, sub TelemetrySource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		client:       c,
		sub:          sub,
		sent:         desc("frames_sent_total", "Frames sent to robot."),
		received:     desc("frames_received_total", "Valid frames received from robot."),
		frameErrors:  desc("frame_errors_total", "Corrupt frames dropped by codec."),
		decodeErrors: desc("decode_errors_total", "Frames with payload rejected by registry."),
		unknown:      desc("unknown_messages_total", "Frames with unregistered command key."),
		timeouts:     desc("sync_timeouts_total", "Sync requests without response."),
		pending:      desc("pending_requests", "Requests waiting for response."),
		heartbeats:   desc("heartbeats_total", "Heartbeats sent."),
		telemetry:    desc("telemetry_samples_total", "Telemetry samples by outcome.", "outcome"),
		dropped:      desc("telemetry_dropped_total", "Telemetry pushes dropped on full queue."),
	}
}

func (self *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- self.sent
	ch <- self.received
	ch <- self.frameErrors
	ch <- self.decodeErrors
	ch <- self.unknown
	ch <- self.timeouts
	ch <- self.pending
	ch <- self.heartbeats
	if self.sub != nil {
		ch <- self.telemetry
		ch <- self.dropped
	}
}

func (self *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	s := self.client.Stat()
	counter(self.sent, s.Sent.Value())
	counter(self.received, s.Received.Value())
	counter(self.frameErrors, s.FrameError.Value())
	counter(self.decodeErrors, s.DecodeError.Value())
	counter(self.unknown, s.Unknown.Value())
	counter(self.timeouts, s.Timeout.Value())
	counter(self.heartbeats, s.Heartbeat.Value())
	ch <- prometheus.MustNewConstMetric(self.pending, prometheus.GaugeValue, float64(self.client.Pending()))

	if self.sub == nil {
		return
	}
	ts := self.sub.Stat()
	counter(self.telemetry, ts.Received.Value(), "received")
	counter(self.telemetry, ts.Delivered.Value(), "delivered")
	counter(self.telemetry, ts.Coalesced.Value(), "coalesced")
	counter(self.telemetry, ts.DecodeError.Value(), "decode_error")
	counter(self.dropped, ts.Dropped.Value())
}
