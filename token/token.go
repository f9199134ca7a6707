// Package token implements connect tokens and challenge tokens: the
// out-of-band credentials a backend mints and a client presents to a
// server to establish a connection without the core ever performing its
// own key exchange.
//
// A connect token has a public part (server addresses, the client/server
// key pair, timeouts — everything the client itself needs) and a private
// part, sealed under a key shared only between the minting backend and
// the server fleet, that the client merely relays inside its connection
// request packet. The server opens the private part to recover and
// cross-check the same fields, so a client can't forge or tamper with
// what it relays.
package token

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// VersionInfo identifies the wire protocol a token was minted for.
var VersionInfo = [13]byte{'Q', 'U', 'I', 'V', 'E', 'R', '-', '1', '.', '0', '.', '0', 0}

const (
	// PrivateTau is the AEAD expansion (authentication tag) size used
	// when sealing token private data.
	PrivateTau = 16
	// MaxServerAddresses bounds how many server addresses a connect
	// token can list.
	MaxServerAddresses = 32
	// UserDataBytes is the size of the opaque user data blob carried by
	// a connect token's private section.
	UserDataBytes = 256
)

// Private is the sealed portion of a connect token.
type Private struct {
	ClientID        uint64    `cbor:"1,keyasint"`
	TimeoutSeconds  int32     `cbor:"2,keyasint"`
	ServerAddresses []string  `cbor:"3,keyasint"`
	ClientToServer  [32]byte  `cbor:"4,keyasint"`
	ServerToClient  [32]byte  `cbor:"5,keyasint"`
	UserData        [UserDataBytes]byte `cbor:"6,keyasint"`
}

// ConnectToken is the full token as delivered to a client (and relayed
// by the client to the server inside its connection request packet).
type ConnectToken struct {
	VersionInfo     [13]byte
	ProtocolID      uint64
	CreateTimestamp int64
	ExpireTimestamp int64
	Nonce           uint64
	PrivateData     []byte // Private, cbor-encoded then AEAD-sealed
	TimeoutSeconds  int32
	ServerAddresses []string
	ClientToServer  [32]byte
	ServerToClient  [32]byte
}

// Expired reports whether the token has passed its expiry timestamp.
func (t *ConnectToken) Expired(now time.Time) bool {
	return now.Unix() > t.ExpireTimestamp
}

// Encode serializes a ConnectToken for wire/storage use.
func Encode(t *ConnectToken) ([]byte, error) {
	return cbor.Marshal(t)
}

// Decode deserializes a ConnectToken produced by Encode.
func Decode(data []byte) (*ConnectToken, error) {
	var t ConnectToken
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("token: decode: %w", err)
	}
	return &t, nil
}

// Challenge is the server-minted token round-tripped through the
// challenge/response steps of the handshake: the server seals it, the
// client echoes it back unchanged, and the server re-opens it to
// recover the client id and key pair without holding per-client state
// between the two steps.
type Challenge struct {
	ClientID       uint64   `cbor:"1,keyasint"`
	ClientToServer [32]byte `cbor:"2,keyasint"`
	ServerToClient [32]byte `cbor:"3,keyasint"`
	UserData       [UserDataBytes]byte `cbor:"4,keyasint"`
}

// EncodeChallenge cbor-encodes a Challenge prior to sealing.
func EncodeChallenge(c *Challenge) ([]byte, error) {
	return cbor.Marshal(c)
}

// DecodeChallenge decodes a Challenge recovered after opening a sealed
// challenge token.
func DecodeChallenge(data []byte) (*Challenge, error) {
	var c Challenge
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("token: decode challenge: %w", err)
	}
	return &c, nil
}
