package reliability_test

import (
	"testing"

	"github.com/quiverio/quiver/reliability"
	"github.com/stretchr/testify/require"
)

func pair(t *testing.T) (*reliability.Endpoint, *reliability.Endpoint) {
	t.Helper()
	var a, b *reliability.Endpoint
	received := map[*reliability.Endpoint][][]byte{}

	cfg := reliability.DefaultConfig()
	a = reliability.New(cfg, nil, func(_ uint16, datagram []byte) {
		require.NoError(t, b.Receive(append([]byte(nil), datagram...)))
	}, func(_ uint16, payload []byte) bool {
		received[a] = append(received[a], append([]byte(nil), payload...))
		return true
	})
	b = reliability.New(cfg, nil, func(_ uint16, datagram []byte) {
		require.NoError(t, a.Receive(append([]byte(nil), datagram...)))
	}, func(_ uint16, payload []byte) bool {
		received[b] = append(received[b], append([]byte(nil), payload...))
		return true
	})
	return a, b
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := pair(t)
	_, err := a.Send([]byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 1, b.Counters().PacketsReceived)
	require.EqualValues(t, 1, a.Counters().PacketsSent)
}

func TestFragmentedSendReassembles(t *testing.T) {
	a, b := pair(t)
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := a.Send(payload)
	require.NoError(t, err)
	require.EqualValues(t, 1, b.Counters().PacketsReceived)
	require.NotZero(t, b.Counters().FragmentsReceived)
}

func TestAcksPropagate(t *testing.T) {
	a, b := pair(t)
	_, err := a.Send([]byte("ping"))
	require.NoError(t, err)
	_, err = b.Send([]byte("pong"))
	require.NoError(t, err)
	require.EqualValues(t, 1, a.Counters().PacketsAcked)
}

func TestFragmentBoundary256Accepted257Rejected(t *testing.T) {
	cfg := reliability.DefaultConfig()
	cfg.MaxFragments = 256
	cfg.FragmentSize = 16
	var out []byte
	e := reliability.New(cfg, nil, func(_ uint16, d []byte) { out = d }, func(_ uint16, _ []byte) bool { return true })

	ok := make([]byte, 256*16)
	_, err := e.Send(ok)
	require.NoError(t, err)
	_ = out

	tooMany := make([]byte, 257*16)
	_, err = e.Send(tooMany)
	require.ErrorIs(t, err, reliability.ErrTooManyFragments)
}

func TestStalePacketRejected(t *testing.T) {
	cfg := reliability.DefaultConfig()
	cfg.ReceivedBufferSize = 8
	var datagrams [][]byte
	sender := reliability.New(cfg, nil, func(_ uint16, d []byte) {
		datagrams = append(datagrams, append([]byte(nil), d...))
	}, nil)
	receiver := reliability.New(cfg, nil, nil, func(_ uint16, _ []byte) bool { return true })

	for i := 0; i < 20; i++ {
		_, err := sender.Send([]byte("x"))
		require.NoError(t, err)
	}
	// deliver the very first (now stale) datagram last
	require.NoError(t, receiver.Receive(datagrams[19]))
	err := receiver.Receive(datagrams[0])
	require.ErrorIs(t, err, reliability.ErrStalePacket)
	require.EqualValues(t, 1, receiver.Counters().PacketsStale)
}
