package token

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gitlab.com/yawning/aez.git"
)

// nonceBytes turns a monotonic per-token nonce counter into the 16-byte
// nonce aez expects, left-padded with zeroes.
func nonceBytes(nonce uint64) []byte {
	b := make([]byte, 16)
	for i := 0; i < 8; i++ {
		b[15-i] = byte(nonce >> (uint(i) * 8))
	}
	return b
}

// SealPrivate cbor-encodes and AEAD-seals a connect token's private
// section under key, distinct from the envelope's chacha20poly1305 AEAD
// so that a compromise of one packet-layer AEAD does not also expose the
// token-minting AEAD.
func SealPrivate(key [32]byte, nonce uint64, additionalData []byte, priv *Private) ([]byte, error) {
	plaintext, err := cbor.Marshal(priv)
	if err != nil {
		return nil, fmt.Errorf("token: marshal private: %w", err)
	}
	ad := [][]byte{additionalData}
	return aez.Encrypt(key[:], nonceBytes(nonce), ad, PrivateTau, plaintext), nil
}

// OpenPrivate authenticates and decrypts a connect token's private
// section sealed by SealPrivate.
func OpenPrivate(key [32]byte, nonce uint64, additionalData, sealed []byte) (*Private, error) {
	ad := [][]byte{additionalData}
	plaintext, ok := aez.Decrypt(key[:], nonceBytes(nonce), ad, PrivateTau, sealed)
	if !ok {
		return nil, fmt.Errorf("token: private section failed authentication")
	}
	var priv Private
	if err := cbor.Unmarshal(plaintext, &priv); err != nil {
		return nil, fmt.Errorf("token: unmarshal private: %w", err)
	}
	return &priv, nil
}

// SealChallenge AEAD-seals a Challenge under the server's rotating
// challenge key.
func SealChallenge(key [32]byte, nonce uint64, c *Challenge) ([]byte, error) {
	plaintext, err := EncodeChallenge(c)
	if err != nil {
		return nil, err
	}
	return aez.Encrypt(key[:], nonceBytes(nonce), nil, PrivateTau, plaintext), nil
}

// OpenChallenge authenticates and decrypts a Challenge sealed by
// SealChallenge.
func OpenChallenge(key [32]byte, nonce uint64, sealed []byte) (*Challenge, error) {
	plaintext, ok := aez.Decrypt(key[:], nonceBytes(nonce), nil, PrivateTau, sealed)
	if !ok {
		return nil, fmt.Errorf("token: challenge failed authentication")
	}
	return DecodeChallenge(plaintext)
}
