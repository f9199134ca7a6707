package persist_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quiverio/quiver/handshake"
	"github.com/quiverio/quiver/persist"
	"github.com/quiverio/quiver/token"
)

func TestMappingSnapshotRoundTripsThroughStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := persist.Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	table := handshake.NewMappingTable(8)
	var c2s, s2c [32]byte
	c2s[0] = 1
	s2c[0] = 2
	table.Upsert("client:1", 42, 0, c2s, s2c, 100, 30)

	require.NoError(t, store.SaveMapping(table))

	restored := handshake.NewMappingTable(8)
	require.NoError(t, store.LoadMapping(restored))

	entry, ok := restored.Find("client:1")
	require.True(t, ok)
	require.EqualValues(t, 42, entry.ClientID)
	require.Equal(t, c2s[:], entry.ClientToServerKey.Bytes())
}

func TestReplaySnapshotRoundTripsThroughStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := persist.Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	rt := token.NewReplayTable(8)
	var mac [token.PrivateTau]byte
	mac[0] = 9
	require.True(t, rt.CheckAndInsert(mac, "client:9", time.Now()))

	require.NoError(t, store.SaveReplay(rt))

	restored := token.NewReplayTable(8)
	require.NoError(t, store.LoadReplay(restored))

	require.False(t, restored.CheckAndInsert(mac, "client:10", time.Now()))
	require.True(t, restored.CheckAndInsert(mac, "client:9", time.Now()))
}
