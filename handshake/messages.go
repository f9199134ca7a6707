package handshake

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// PacketType identifies a pre-connection handshake packet. These precede
// envelope-protected connection payload packets, which carry no type
// byte of their own (their framing is entirely sequence/AEAD based).
type PacketType byte

const (
	PacketConnectionRequest PacketType = iota
	PacketConnectionDenied
	PacketChallenge
	PacketResponse
	PacketKeepAlive
	PacketDisconnect
)

// ConnectionRequestPacket is the client's first handshake message: the
// connect token's public fields plus its sealed private section, which
// the client relays to the server without being able to read it.
type ConnectionRequestPacket struct {
	VersionInfo     [13]byte `cbor:"1,keyasint"`
	ProtocolID      uint64   `cbor:"2,keyasint"`
	TokenExpireTime int64    `cbor:"3,keyasint"`
	TokenNonce      uint64   `cbor:"4,keyasint"`
	TokenData       []byte   `cbor:"5,keyasint"`
}

// ChallengePacket is the server's reply to a valid request.
type ChallengePacket struct {
	ChallengeSequence uint64 `cbor:"1,keyasint"`
	ChallengeData     []byte `cbor:"2,keyasint"`
}

// ResponsePacket is the client's echo of the challenge token, proving it
// received the challenge without the server needing to keep any
// per-client state between sending the challenge and receiving this.
type ResponsePacket struct {
	ChallengeSequence uint64 `cbor:"1,keyasint"`
	ChallengeData     []byte `cbor:"2,keyasint"`
}

// KeepAlivePacket confirms the connection is established.
type KeepAlivePacket struct {
	ClientIndex uint32 `cbor:"1,keyasint"`
}

// DeniedPacket explains why a request or response was rejected.
type DeniedPacket struct {
	Reason string `cbor:"1,keyasint"`
}

// Encode prefixes a cbor-encoded handshake message with its packet type.
func Encode(pt PacketType, v interface{}) ([]byte, error) {
	body, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("handshake: encode: %w", err)
	}
	return append([]byte{byte(pt)}, body...), nil
}

// Decode splits a handshake datagram into its type and cbor body.
func Decode(data []byte) (PacketType, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("handshake: empty packet")
	}
	return PacketType(data[0]), data[1:], nil
}
