// Package metrics exposes the reliability endpoint's observable counters
// as Prometheus metrics, scraped on whatever interval the embedding
// service chooses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quiverio/quiver/reliability"
)

// Collector wraps the gauges and counters published for a single
// reliability.Endpoint. Register it once per connection.
type Collector struct {
	addr string

	last reliability.Counters

	sentPackets     prometheus.Counter
	receivedPackets prometheus.Counter
	lostPackets     prometheus.Counter
	ackedPackets    prometheus.Counter

	rtt              prometheus.Gauge
	packetLoss       prometheus.Gauge
	sentBandwidth    prometheus.Gauge
	receivedBandwidth prometheus.Gauge
	ackedBandwidth   prometheus.Gauge
}

// NewCollector builds a Collector labeled with the peer address it
// tracks, without registering it against any registry yet.
func NewCollector(addr string) *Collector {
	labels := prometheus.Labels{"peer": addr}
	return &Collector{
		addr: addr,
		sentPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quiver_sent_packets_total",
			Help:        "Total packets sent by the reliability endpoint.",
			ConstLabels: labels,
		}),
		receivedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quiver_received_packets_total",
			Help:        "Total packets received by the reliability endpoint.",
			ConstLabels: labels,
		}),
		lostPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quiver_stale_packets_total",
			Help:        "Total packets rejected as stale (older than the receive window).",
			ConstLabels: labels,
		}),
		ackedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quiver_acked_packets_total",
			Help:        "Total packets acknowledged by the remote peer.",
			ConstLabels: labels,
		}),
		rtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "quiver_rtt_milliseconds",
			Help:        "Smoothed round-trip time estimate.",
			ConstLabels: labels,
		}),
		packetLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "quiver_packet_loss_percent",
			Help:        "Smoothed packet loss percentage.",
			ConstLabels: labels,
		}),
		sentBandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "quiver_sent_bandwidth_kbps",
			Help:        "Smoothed sent bandwidth in kbps.",
			ConstLabels: labels,
		}),
		receivedBandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "quiver_received_bandwidth_kbps",
			Help:        "Smoothed received bandwidth in kbps.",
			ConstLabels: labels,
		}),
		ackedBandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "quiver_acked_bandwidth_kbps",
			Help:        "Smoothed acked bandwidth in kbps.",
			ConstLabels: labels,
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentPackets.Desc()
	ch <- c.receivedPackets.Desc()
	ch <- c.lostPackets.Desc()
	ch <- c.ackedPackets.Desc()
	ch <- c.rtt.Desc()
	ch <- c.packetLoss.Desc()
	ch <- c.sentBandwidth.Desc()
	ch <- c.receivedBandwidth.Desc()
	ch <- c.ackedBandwidth.Desc()
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- c.sentPackets
	ch <- c.receivedPackets
	ch <- c.lostPackets
	ch <- c.ackedPackets
	ch <- c.rtt
	ch <- c.packetLoss
	ch <- c.sentBandwidth
	ch <- c.receivedBandwidth
	ch <- c.ackedBandwidth
}

// Sample pulls the current counters and gauges from an Endpoint and
// updates this Collector's exported series. Call this once per Tick.
// Counters on Endpoint are cumulative since the last Reset, so Sample
// tracks the previously seen values and only adds the delta.
func (c *Collector) Sample(ep *reliability.Endpoint) {
	counters := ep.Counters()

	c.sentPackets.Add(delta(counters.PacketsSent, c.last.PacketsSent))
	c.receivedPackets.Add(delta(counters.PacketsReceived, c.last.PacketsReceived))
	c.lostPackets.Add(delta(counters.PacketsStale, c.last.PacketsStale))
	c.ackedPackets.Add(delta(counters.PacketsAcked, c.last.PacketsAcked))
	c.last = counters

	c.rtt.Set(ep.RTTMilliseconds())
	c.packetLoss.Set(ep.PacketLossPercent())
	c.sentBandwidth.Set(ep.SentBandwidthKbps())
	c.receivedBandwidth.Set(ep.ReceivedBandwidthKbps())
	c.ackedBandwidth.Set(ep.AckedBandwidthKbps())
}

func delta(current, previous uint64) float64 {
	if current < previous {
		return 0
	}
	return float64(current - previous)
}
