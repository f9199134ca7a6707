package bitio_test

import (
	"testing"

	"github.com/quiverio/quiver/bitio"
	"github.com/stretchr/testify/require"
)

func TestWriteReadBitsRoundTrip(t *testing.T) {
	w := bitio.NewWriter(make([]byte, 0, 64))
	require.NoError(t, w.WriteBits(3, 2))
	require.NoError(t, w.WriteBits(511, 9))
	require.NoError(t, w.WriteBits(1, 1))
	require.NoError(t, w.WriteBits(0xABCD, 16))
	require.NoError(t, w.WriteBits(0xFFFFFFFF, 32))
	data := w.Bytes()

	r := bitio.NewReader(data)
	v, err := r.ReadBits(2)
	require.NoError(t, err)
	require.EqualValues(t, 3, v)

	v, err = r.ReadBits(9)
	require.NoError(t, err)
	require.EqualValues(t, 511, v)

	v, err = r.ReadBits(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)

	v, err = r.ReadBits(16)
	require.NoError(t, err)
	require.EqualValues(t, 0xABCD, v)

	v, err = r.ReadBits(32)
	require.NoError(t, err)
	require.EqualValues(t, 0xFFFFFFFF, v)
}

func TestWriteBitsRejectsOutOfRangeValue(t *testing.T) {
	w := bitio.NewWriter(nil)
	err := w.WriteBits(8, 3)
	require.Error(t, err)
}

func TestBytesRoundTripAcrossAlignment(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, w.WriteBits(1, 3))
	payload := []byte("the quick brown fox jumps")
	require.NoError(t, w.WriteBytes(payload))
	data := w.Bytes()

	r := bitio.NewReader(data)
	_, err := r.ReadBits(3)
	require.NoError(t, err)
	got, err := r.ReadBytes(len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadPastEndReturnsOverflow(t *testing.T) {
	w := bitio.NewWriter(nil)
	require.NoError(t, w.WriteBits(1, 4))
	data := w.Bytes()
	r := bitio.NewReader(data)
	_, err := r.ReadBits(32)
	require.ErrorIs(t, err, bitio.ErrOverflow)
}

func TestAlignedByteFastPath(t *testing.T) {
	w := bitio.NewWriter(nil)
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, w.WriteBytes(payload))
	data := w.Bytes()
	require.Len(t, data, len(payload))

	r := bitio.NewReader(data)
	got, err := r.ReadBytes(len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
