package replay_test

import (
	"testing"

	"github.com/quiverio/quiver/replay"
	"github.com/stretchr/testify/require"
)

func TestFirstPacketAlwaysAccepted(t *testing.T) {
	w := replay.NewWindow()
	require.True(t, w.Check(500))
}

func TestDuplicateRejected(t *testing.T) {
	w := replay.NewWindow()
	require.True(t, w.Check(10))
	w.Update(10)
	require.False(t, w.Check(10))
}

func TestOutOfOrderWithinWindowAccepted(t *testing.T) {
	w := replay.NewWindow()
	w.Update(100)
	require.True(t, w.Check(95))
	w.Update(95)
	require.False(t, w.Check(95))
}

func TestTooOldRejected(t *testing.T) {
	w := replay.NewWindow()
	w.Update(1000)
	require.False(t, w.Check(900))
}

func TestNewerSlidesWindow(t *testing.T) {
	w := replay.NewWindow()
	w.Update(10)
	require.True(t, w.Check(200))
	w.Update(200)
	require.False(t, w.Check(10))
}
