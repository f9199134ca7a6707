package handshake

import (
	"crypto/cipher"

	"github.com/quiverio/quiver/envelope"
)

// envelopeMarker prefixes every handshake packet sent wrapped in the
// AEAD envelope, distinguishing it from a bare [PacketType][cbor] packet
// whose first byte is always one of the small PacketType values declared
// in messages.go.
const envelopeMarker = 0x80

func buildHandshakeAEAD(key []byte) (cipher.AEAD, error) {
	return envelope.NewAEAD(key)
}

// handshakeAD binds an enveloped handshake packet to the connect token's
// nonce, the one value both sides agree on before any mapping entry
// exists.
func handshakeAD(nonce uint64) []byte {
	ad := make([]byte, 8)
	for i := 0; i < 8; i++ {
		ad[i] = byte(nonce >> (uint(i) * 8))
	}
	return ad
}

func wrapEnvelope(aead cipher.AEAD, nonce, sequence uint64, payload []byte) []byte {
	sealed := envelope.Seal(aead, sequence, handshakeAD(nonce), payload)
	out := make([]byte, 0, len(sealed)+1)
	out = append(out, envelopeMarker)
	return append(out, sealed...)
}

func unwrapEnvelope(aead cipher.AEAD, nonce uint64, data []byte) ([]byte, error) {
	_, plaintext, err := envelope.Open(aead, handshakeAD(nonce), data[1:])
	return plaintext, err
}
