package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/quiverio/quiver/metrics"
	"github.com/quiverio/quiver/reliability"
)

func TestCollectorSamplesEndpointCounters(t *testing.T) {
	ep := reliability.New(reliability.DefaultConfig(), nil,
		func(sequence uint16, datagram []byte) {},
		func(sequence uint16, payload []byte) bool { return true },
	)

	_, err := ep.Send([]byte("hello"))
	require.NoError(t, err)

	c := metrics.NewCollector("peer:1")
	c.Sample(ep)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawSent bool
	for _, f := range families {
		if f.GetName() == "quiver_sent_packets_total" {
			sawSent = true
			require.Equal(t, float64(1), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, sawSent, "expected quiver_sent_packets_total in gathered metrics")
}

func TestCollectorSampleIsDeltaNotCumulative(t *testing.T) {
	ep := reliability.New(reliability.DefaultConfig(), nil,
		func(sequence uint16, datagram []byte) {},
		func(sequence uint16, payload []byte) bool { return true },
	)

	c := metrics.NewCollector("peer:2")

	_, err := ep.Send([]byte("one"))
	require.NoError(t, err)
	c.Sample(ep)

	_, err = ep.Send([]byte("two"))
	require.NoError(t, err)
	c.Sample(ep)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == "quiver_sent_packets_total" {
			require.Equal(t, float64(2), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
