package seqbuf_test

import (
	"testing"

	"github.com/quiverio/quiver/seqbuf"
	"github.com/stretchr/testify/require"
)

func TestInsertAndFind(t *testing.T) {
	b := seqbuf.New[int](16, nil)
	e, ok := b.Insert(5)
	require.True(t, ok)
	*e = 100
	got, ok := b.Find(5)
	require.True(t, ok)
	require.Equal(t, 100, *got)
}

func TestStaleInsertRejected(t *testing.T) {
	b := seqbuf.New[int](16, nil)
	_, ok := b.Insert(100)
	require.True(t, ok)
	_, ok = b.Insert(50)
	require.False(t, ok)
}

func TestAdvanceEvictsOldEntries(t *testing.T) {
	var cleaned []uint16
	b := seqbuf.New[uint16](4, func(e *uint16) { cleaned = append(cleaned, *e) })
	for _, s := range []uint16{0, 1, 2, 3} {
		e, ok := b.Insert(s)
		require.True(t, ok)
		*e = s
	}
	_, ok := b.Insert(4)
	require.True(t, ok)
	require.Contains(t, cleaned, uint16(0))
	require.False(t, b.Exists(0))
	require.True(t, b.Exists(4))
}

func TestWraparoundAcrossSequenceRollover(t *testing.T) {
	b := seqbuf.New[int](16, nil)
	_, ok := b.Insert(65530)
	require.True(t, ok)
	_, ok = b.Insert(3) // wraps past 65535
	require.True(t, ok)
	require.True(t, b.Exists(65530))
	require.True(t, b.Exists(3))
}

func TestJumpFartherThanBufferClearsEverything(t *testing.T) {
	b := seqbuf.New[int](4, nil)
	for _, s := range []uint16{0, 1, 2, 3} {
		_, _ = b.Insert(s)
	}
	_, ok := b.Insert(1000)
	require.True(t, ok)
	require.False(t, b.Exists(0))
	require.False(t, b.Exists(1))
	require.False(t, b.Exists(2))
	require.False(t, b.Exists(3))
	require.True(t, b.Exists(1000))
}

func TestGenerateAckBits(t *testing.T) {
	b := seqbuf.New[int](64, nil)
	for _, s := range []uint16{0, 1, 3} {
		_, _ = b.Insert(s)
	}
	bits := b.GenerateAckBits()
	require.NotZero(t, bits&(1<<2)) // ack=3, bit2 -> seq 1
	require.NotZero(t, bits&(1<<3)) // bit3 -> seq 0
	require.Zero(t, bits&(1<<1))    // bit1 -> seq 2, never inserted
}

func TestRemoveInvokesCleanup(t *testing.T) {
	cleanedUp := false
	b := seqbuf.New[int](8, func(e *int) { cleanedUp = true })
	_, _ = b.Insert(1)
	require.True(t, b.Remove(1))
	require.True(t, cleanedUp)
	require.False(t, b.Exists(1))
}
