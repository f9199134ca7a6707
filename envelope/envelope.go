// Package envelope implements the AEAD sequence-prefix packet framing
// used to protect connection payload packets once a handshake has
// established a send/receive key pair: a compressed sequence number
// followed by an authenticated, encrypted payload.
//
// The sequence number's low byte is always sent in full; a one-byte
// bitmask then marks which of its seven higher bytes are non-zero and
// therefore present on the wire, since in the common case a connection
// runs for far fewer than 2^32 packets and those high bytes are zero.
package envelope

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrShortEnvelope is returned when a buffer is too small to contain a
// valid envelope header.
var ErrShortEnvelope = errors.New("envelope: buffer too short")

// NewAEAD returns the chacha20poly1305 AEAD used for connection payload
// packets, keyed by a 32-byte send or receive key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key)
}

func nonceFor(sequence uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[:8], sequence)
	return nonce
}

// Seal encrypts plaintext under aead, framed with sequence compressed
// per the scheme above, and authenticates additionalData alongside it.
func Seal(aead cipher.AEAD, sequence uint64, additionalData, plaintext []byte) []byte {
	var seqBytes [8]byte
	binary.LittleEndian.PutUint64(seqBytes[:], sequence)

	var prefix byte
	for i := 1; i < 8; i++ {
		if seqBytes[i] != 0 {
			prefix |= 1 << uint(i-1)
		}
	}

	header := make([]byte, 0, 9)
	header = append(header, prefix, seqBytes[0])
	for i := 1; i < 8; i++ {
		if prefix&(1<<uint(i-1)) != 0 {
			header = append(header, seqBytes[i])
		}
	}

	ad := make([]byte, 0, len(header)+len(additionalData))
	ad = append(ad, header...)
	ad = append(ad, additionalData...)

	ciphertext := aead.Seal(nil, nonceFor(sequence), plaintext, ad)
	return append(header, ciphertext...)
}

// Open validates and decrypts an envelope produced by Seal, returning
// the decoded sequence number and the recovered plaintext.
func Open(aead cipher.AEAD, additionalData, data []byte) (sequence uint64, plaintext []byte, err error) {
	if len(data) < 2 {
		return 0, nil, ErrShortEnvelope
	}
	prefix := data[0]
	var seqBytes [8]byte
	seqBytes[0] = data[1]
	idx := 2
	headerLen := 2
	for i := 1; i < 8; i++ {
		if prefix&(1<<uint(i-1)) != 0 {
			if idx >= len(data) {
				return 0, nil, ErrShortEnvelope
			}
			seqBytes[i] = data[idx]
			idx++
			headerLen++
		}
	}
	sequence = binary.LittleEndian.Uint64(seqBytes[:])

	ad := make([]byte, 0, headerLen+len(additionalData))
	ad = append(ad, data[:headerLen]...)
	ad = append(ad, additionalData...)

	plaintext, err = aead.Open(nil, nonceFor(sequence), data[idx:], ad)
	if err != nil {
		return 0, nil, err
	}
	return sequence, plaintext, nil
}
