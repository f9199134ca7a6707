package wire

import (
	"errors"

	"github.com/quiverio/quiver/bitio"
)

// MaxHeaderBytes bounds the serialized size of a regular packet header:
// 1 prefix byte + 2 sequence bytes + up to 2 ack bytes + up to 4 ack-bits
// bytes. Reliability uses this to size the reserved prefix in fragment
// reassembly buffers.
const MaxHeaderBytes = 1 + 2 + 2 + 4

// ErrNotRegularHeader is returned when ReadHeader is pointed at a buffer
// whose low bit marks it as a fragment packet instead.
var ErrNotRegularHeader = errors.New("wire: buffer is a fragment packet, not a regular header")

// ErrNotFragmentHeader is returned when ReadFragmentHeader is pointed at
// a buffer whose low bit marks it as a regular packet instead.
var ErrNotFragmentHeader = errors.New("wire: buffer is a regular packet, not a fragment header")

const (
	prefixFragmentBit = 1 << 0
	prefixAckByte0Bit = 1 << 1
	prefixAckByte1Bit = 1 << 2
	prefixAckByte2Bit = 1 << 3
	prefixAckByte3Bit = 1 << 4
	prefixShortAckBit = 1 << 5
)

// WriteHeader encodes a regular packet header: a sequence number, a
// cumulative ack, and a 32-bit ack bitmask, compressing the ack relative
// to sequence (one byte instead of two, when within 255) and omitting
// any ack-bits byte that is entirely 0xFF (the common case once the
// window is full of acked packets).
func WriteHeader(w *bitio.Writer, sequence, ack uint16, ackBits uint32) error {
	var ackByte [4]byte
	ackByte[0] = byte(ackBits)
	ackByte[1] = byte(ackBits >> 8)
	ackByte[2] = byte(ackBits >> 16)
	ackByte[3] = byte(ackBits >> 24)

	var prefix byte
	if ackByte[0] != 0xFF {
		prefix |= prefixAckByte0Bit
	}
	if ackByte[1] != 0xFF {
		prefix |= prefixAckByte1Bit
	}
	if ackByte[2] != 0xFF {
		prefix |= prefixAckByte2Bit
	}
	if ackByte[3] != 0xFF {
		prefix |= prefixAckByte3Bit
	}
	delta := sequence - ack
	shortAck := delta <= 255
	if shortAck {
		prefix |= prefixShortAckBit
	}

	if err := w.WriteBits(uint32(prefix), 8); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(sequence), 16); err != nil {
		return err
	}
	if shortAck {
		if err := w.WriteBits(uint32(delta), 8); err != nil {
			return err
		}
	} else {
		if err := w.WriteBits(uint32(ack), 16); err != nil {
			return err
		}
	}
	for i, bit := range [4]byte{prefixAckByte0Bit, prefixAckByte1Bit, prefixAckByte2Bit, prefixAckByte3Bit} {
		if prefix&bit != 0 {
			if err := w.WriteBits(uint32(ackByte[i]), 8); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadHeader decodes a regular packet header written by WriteHeader.
func ReadHeader(r *bitio.Reader) (sequence, ack uint16, ackBits uint32, err error) {
	p, err := r.ReadBits(8)
	if err != nil {
		return 0, 0, 0, err
	}
	prefix := byte(p)
	if prefix&prefixFragmentBit != 0 {
		return 0, 0, 0, ErrNotRegularHeader
	}
	sv, err := r.ReadBits(16)
	if err != nil {
		return 0, 0, 0, err
	}
	sequence = uint16(sv)

	if prefix&prefixShortAckBit != 0 {
		d, err := r.ReadBits(8)
		if err != nil {
			return 0, 0, 0, err
		}
		ack = sequence - uint16(d)
	} else {
		av, err := r.ReadBits(16)
		if err != nil {
			return 0, 0, 0, err
		}
		ack = uint16(av)
	}

	ackBits = 0xFFFFFFFF
	for i, bit := range [4]byte{prefixAckByte0Bit, prefixAckByte1Bit, prefixAckByte2Bit, prefixAckByte3Bit} {
		if prefix&bit != 0 {
			b, err := r.ReadBits(8)
			if err != nil {
				return 0, 0, 0, err
			}
			shift := uint(i) * 8
			ackBits = (ackBits &^ (0xFF << shift)) | (uint32(b) << shift)
		}
	}
	return sequence, ack, ackBits, nil
}

// HeaderSize returns the exact serialized size in bytes that WriteHeader
// would produce for the given fields, used for fragment buffer layout.
func HeaderSize(sequence, ack uint16, ackBits uint32) int {
	size := 1 + 2
	if sequence-ack <= 255 {
		size++
	} else {
		size += 2
	}
	for i := 0; i < 4; i++ {
		if byte(ackBits>>(uint(i)*8)) != 0xFF {
			size++
		}
	}
	return size
}
