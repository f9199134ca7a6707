package wire_test

import (
	"testing"

	"github.com/quiverio/quiver/bitio"
	"github.com/quiverio/quiver/wire"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTripShortAck(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, wire.WriteHeader(w, 1000, 990, 0xFFFFFFFE))
	data := w.Bytes()

	r := bitio.NewReader(data)
	seq, ack, ackBits, err := wire.ReadHeader(r)
	require.NoError(t, err)
	require.EqualValues(t, 1000, seq)
	require.EqualValues(t, 990, ack)
	require.EqualValues(t, 0xFFFFFFFE, ackBits)
}

func TestHeaderRoundTripLongAck(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, wire.WriteHeader(w, 5000, 1000, 0x0F0F0F0F))
	data := w.Bytes()

	r := bitio.NewReader(data)
	seq, ack, ackBits, err := wire.ReadHeader(r)
	require.NoError(t, err)
	require.EqualValues(t, 5000, seq)
	require.EqualValues(t, 1000, ack)
	require.EqualValues(t, 0x0F0F0F0F, ackBits)
}

func TestHeaderSizeMatchesWrittenBytes(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, wire.WriteHeader(w, 42, 40, 0xFFFFFFFF))
	data := w.Bytes()
	require.Equal(t, wire.HeaderSize(42, 40, 0xFFFFFFFF), len(data))
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, wire.WriteFragmentHeader(w, 777, 3, 256))
	data := w.Bytes()

	r := bitio.NewReader(data)
	seq, fragID, total, err := wire.ReadFragmentHeader(r)
	require.NoError(t, err)
	require.EqualValues(t, 777, seq)
	require.Equal(t, 3, fragID)
	require.Equal(t, 256, total)
}

func TestReadHeaderRejectsFragmentPrefix(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, wire.WriteFragmentHeader(w, 1, 0, 1))
	data := w.Bytes()
	r := bitio.NewReader(data)
	_, _, _, err := wire.ReadHeader(r)
	require.ErrorIs(t, err, wire.ErrNotRegularHeader)
}

func TestStreamMeasureMatchesWriteSize(t *testing.T) {
	write := func(s *wire.Stream, seq *int64, flag *bool, payload *[]byte) error {
		if err := s.Int(seq, 0, 65535); err != nil {
			return err
		}
		if err := s.Bool(flag); err != nil {
			return err
		}
		return s.BytesField(payload, len(*payload))
	}

	seq := int64(1234)
	flag := true
	payload := []byte("hello")

	m := wire.NewMeasureStream()
	require.NoError(t, write(m, &seq, &flag, &payload))

	w := wire.NewWriteStream(nil)
	require.NoError(t, write(w, &seq, &flag, &payload))
	data := w.Bytes()

	require.Equal(t, m.MeasuredBytes(), len(data))

	r := wire.NewReadStream(data)
	var rseq int64
	var rflag bool
	rpayload := make([]byte, len(payload))
	require.NoError(t, write(r, &rseq, &rflag, &rpayload))
	require.Equal(t, seq, rseq)
	require.Equal(t, flag, rflag)
	require.Equal(t, payload, rpayload)
}
