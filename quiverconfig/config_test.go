package quiverconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quiverio/quiver/quiverconfig"
)

func TestLoadServerFillsReliabilityDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address = "0.0.0.0:40000"
protocol_id = 1234

[reliability]
fragment_threshold = 900
`), 0o600))

	cfg, err := quiverconfig.LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:40000", cfg.ListenAddress)
	require.EqualValues(t, 1234, cfg.ProtocolID)

	rc := cfg.Reliability.ToReliability()
	require.Equal(t, 900, rc.FragmentThreshold)
	require.Equal(t, 16*1024, rc.MaxPacketSize)
}

func TestWriteExampleServerProducesLoadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.toml")
	require.NoError(t, quiverconfig.WriteExampleServer(path))

	cfg, err := quiverconfig.LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:40000", cfg.ListenAddress)
}
