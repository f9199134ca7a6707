package envelope_test

import (
	"testing"

	"github.com/quiverio/quiver/envelope"
	"github.com/stretchr/testify/require"
)

func key() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	aead, err := envelope.NewAEAD(key())
	require.NoError(t, err)

	data := envelope.Seal(aead, 42, []byte("ad"), []byte("hello world"))
	seq, pt, err := envelope.Open(aead, []byte("ad"), data)
	require.NoError(t, err)
	require.EqualValues(t, 42, seq)
	require.Equal(t, "hello world", string(pt))
}

func TestSealCompressesLowSequence(t *testing.T) {
	aead, err := envelope.NewAEAD(key())
	require.NoError(t, err)
	data := envelope.Seal(aead, 7, nil, []byte("x"))
	// prefix byte (0, since all high bytes zero) + 1 low byte + ciphertext+tag
	require.Equal(t, 2+1+chacha20poly1305Overhead, len(data))
}

const chacha20poly1305Overhead = 16

func TestBitFlipRejected(t *testing.T) {
	aead, err := envelope.NewAEAD(key())
	require.NoError(t, err)
	data := envelope.Seal(aead, 1, nil, []byte("hello"))
	data[len(data)-1] ^= 0xFF
	_, _, err = envelope.Open(aead, nil, data)
	require.Error(t, err)
}

func TestWrongAdditionalDataRejected(t *testing.T) {
	aead, err := envelope.NewAEAD(key())
	require.NoError(t, err)
	data := envelope.Seal(aead, 1, []byte("a"), []byte("hello"))
	_, _, err = envelope.Open(aead, []byte("b"), data)
	require.Error(t, err)
}

func TestHighSequenceCarriesExtraBytes(t *testing.T) {
	aead, err := envelope.NewAEAD(key())
	require.NoError(t, err)
	data := envelope.Seal(aead, 1<<40, nil, []byte("x"))
	seq, pt, err := envelope.Open(aead, nil, data)
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, seq)
	require.Equal(t, "x", string(pt))
}
