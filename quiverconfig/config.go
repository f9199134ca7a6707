// Package quiverconfig loads server and client configuration from TOML
// files, the same format and library the rest of the pack's daemons
// use for their own configuration surface.
package quiverconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/quiverio/quiver/reliability"
)

// Reliability mirrors reliability.Config in TOML-friendly field names,
// letting a deployment override any of the yojimbo-derived tunables
// without recompiling.
type Reliability struct {
	MaxPacketSize        int     `toml:"max_packet_size"`
	FragmentThreshold    int     `toml:"fragment_threshold"`
	FragmentSize         int     `toml:"fragment_size"`
	MaxFragments         int     `toml:"max_fragments"`
	SentBufferSize       int     `toml:"sent_buffer_size"`
	ReceivedBufferSize   int     `toml:"received_buffer_size"`
	ReassemblyBufferSize int     `toml:"reassembly_buffer_size"`
	AckBufferSize        int     `toml:"ack_buffer_size"`
	RTTAlpha             float64 `toml:"rtt_alpha"`
	PacketLossAlpha      float64 `toml:"packet_loss_alpha"`
	BandwidthAlpha       float64 `toml:"bandwidth_alpha"`
	IPUDPOverheadBytes   int     `toml:"ip_udp_overhead_bytes"`
}

// ToReliability converts the loaded TOML fields into a reliability.Config,
// falling back to reliability.DefaultConfig for any field left at its
// TOML zero value.
func (r Reliability) ToReliability() reliability.Config {
	d := reliability.DefaultConfig()
	cfg := reliability.Config{
		MaxPacketSize:        orDefault(r.MaxPacketSize, d.MaxPacketSize),
		FragmentThreshold:    orDefault(r.FragmentThreshold, d.FragmentThreshold),
		FragmentSize:         orDefault(r.FragmentSize, d.FragmentSize),
		MaxFragments:         orDefault(r.MaxFragments, d.MaxFragments),
		SentBufferSize:       orDefault(r.SentBufferSize, d.SentBufferSize),
		ReceivedBufferSize:   orDefault(r.ReceivedBufferSize, d.ReceivedBufferSize),
		ReassemblyBufferSize: orDefault(r.ReassemblyBufferSize, d.ReassemblyBufferSize),
		AckBufferSize:        orDefault(r.AckBufferSize, d.AckBufferSize),
		RTTAlpha:             orDefaultFloat(r.RTTAlpha, d.RTTAlpha),
		PacketLossAlpha:      orDefaultFloat(r.PacketLossAlpha, d.PacketLossAlpha),
		BandwidthAlpha:       orDefaultFloat(r.BandwidthAlpha, d.BandwidthAlpha),
		IPUDPOverheadBytes:   orDefault(r.IPUDPOverheadBytes, d.IPUDPOverheadBytes),
	}
	return cfg
}

func orDefault(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func orDefaultFloat(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}

// Server is the on-disk configuration for a listening peer: its bind
// address, protocol identity, handshake keys, and reliability tuning.
type Server struct {
	ListenAddress       string      `toml:"listen_address"`
	ProtocolID          uint64      `toml:"protocol_id"`
	PrivateKeyHex       string      `toml:"private_key_hex"`
	ChallengeKeyHex     string      `toml:"challenge_key_hex"`
	MappingCapacity     int         `toml:"mapping_capacity"`
	MappingTimeoutSecs  float64     `toml:"mapping_timeout_seconds"`
	ReplayTableCapacity int         `toml:"replay_table_capacity"`
	MaxClients          int         `toml:"max_clients"`
	Reliability         Reliability `toml:"reliability"`
	MetricsAddress      string      `toml:"metrics_address"`
	StatePath           string      `toml:"state_path"`
}

// Client is the on-disk configuration for a connecting peer: mostly
// reliability tuning, since handshake identity travels in the connect
// token rather than local config.
type Client struct {
	ProtocolID  uint64      `toml:"protocol_id"`
	TokenPath   string      `toml:"token_path"`
	Reliability Reliability `toml:"reliability"`
	MetricsAddress string   `toml:"metrics_address"`
}

// LoadServer reads and parses a Server configuration from path.
func LoadServer(path string) (*Server, error) {
	var cfg Server
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load server config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadClient reads and parses a Client configuration from path.
func LoadClient(path string) (*Client, error) {
	var cfg Client
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load client config %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteExampleServer writes a starter configuration to path,
// useful for `quiver-server -init`.
func WriteExampleServer(path string) error {
	const example = `listen_address = "0.0.0.0:40000"
protocol_id = 0x514d4950
private_key_hex = ""
challenge_key_hex = ""
mapping_capacity = 1024
mapping_timeout_seconds = 10.0
replay_table_capacity = 4096
max_clients = 256
metrics_address = "127.0.0.1:9090"
state_path = "quiver-server.db"

[reliability]
max_packet_size = 16384
fragment_threshold = 1200
fragment_size = 1024
max_fragments = 16
`
	return os.WriteFile(path, []byte(example), 0o600)
}
