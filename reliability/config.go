package reliability

// Config tunes a reliability Endpoint's buffers and smoothing behavior.
// Defaults are grounded on yojimbo's connection config; FragmentSize and
// MaxFragments are configurable but capped at the wire format's hard
// limit of 256 fragments per logical packet.
type Config struct {
	MaxPacketSize         int
	FragmentThreshold     int
	FragmentSize          int
	MaxFragments          int
	SentBufferSize        int
	ReceivedBufferSize    int
	ReassemblyBufferSize  int
	AckBufferSize         int
	RTTAlpha              float64
	PacketLossAlpha       float64
	BandwidthAlpha        float64
	IPUDPOverheadBytes    int
}

// DefaultConfig returns yojimbo-equivalent defaults.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize:        16 * 1024,
		FragmentThreshold:    1024,
		FragmentSize:         1024,
		MaxFragments:         16,
		SentBufferSize:       256,
		ReceivedBufferSize:   256,
		ReassemblyBufferSize: 64,
		AckBufferSize:        256,
		RTTAlpha:             0.0025,
		PacketLossAlpha:      0.1,
		BandwidthAlpha:       0.1,
		IPUDPOverheadBytes:   28, // 20 byte IPv4 + 8 byte UDP
	}
}
