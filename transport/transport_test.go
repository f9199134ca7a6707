package transport_test

import (
	"testing"
	"time"

	"github.com/quiverio/quiver/transport"
	"github.com/stretchr/testify/require"
)

func TestUDPSendReceiveRoundTrip(t *testing.T) {
	a, err := transport.Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := transport.Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(b.LocalAddr(), []byte("ping")))

	select {
	case v := <-b.Inbound():
		pkt := v.(transport.Packet)
		require.Equal(t, "ping", string(pkt.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestSimulatorDropsAllPacketsAtFullLoss(t *testing.T) {
	sim := transport.NewSimulator(transport.SimulatorConfig{PacketLossPercent: 100}, 1)
	defer sim.Close()

	require.NoError(t, sim.Send("peer:1", []byte("dropped")))

	select {
	case <-sim.Inbound():
		t.Fatal("expected no packet to be delivered at 100% loss")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimulatorDeliversWithoutLoss(t *testing.T) {
	sim := transport.NewSimulator(transport.SimulatorConfig{LatencyMilliseconds: 5}, 1)
	defer sim.Close()

	require.NoError(t, sim.Send("peer:1", []byte("hi")))

	select {
	case v := <-sim.Inbound():
		pkt := v.(transport.Packet)
		require.Equal(t, "hi", string(pkt.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delayed packet")
	}
}
