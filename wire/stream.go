// Package wire implements the packet-level serialization stream (the
// three-mode Read/Write/Measure abstraction over bitio) together with
// the regular packet header and fragment header codecs.
package wire

import (
	"fmt"
	"math/bits"

	"github.com/quiverio/quiver/bitio"
)

// Mode selects how a Stream interprets its Int/Bits/Bytes calls.
type Mode int

const (
	// ModeWrite serializes values into an underlying bitio.Writer.
	ModeWrite Mode = iota
	// ModeRead deserializes values from an underlying bitio.Reader.
	ModeRead
	// ModeMeasure only tallies how many bits a serialization would take.
	ModeMeasure
)

// Stream is a single read/write/measure pass over a packet buffer. The
// same sequence of Int/Bits/Bytes calls, issued in the same order, drives
// all three modes — callers write one serialize function per structure
// and reuse it for writing, reading, and measuring.
type Stream struct {
	mode    Mode
	writer  *bitio.Writer
	reader  *bitio.Reader
	bits    uint
	writeOK bool
}

// NewWriteStream returns a Stream that writes into buf.
func NewWriteStream(buf []byte) *Stream {
	return &Stream{mode: ModeWrite, writer: bitio.NewWriter(buf), writeOK: true}
}

// NewReadStream returns a Stream that reads from data.
func NewReadStream(data []byte) *Stream {
	return &Stream{mode: ModeRead, reader: bitio.NewReader(data)}
}

// NewMeasureStream returns a Stream that only counts bits.
func NewMeasureStream() *Stream {
	return &Stream{mode: ModeMeasure}
}

// Mode reports which mode the stream is operating in.
func (s *Stream) Mode() Mode { return s.mode }

// Bytes returns the serialized buffer. Only valid in ModeWrite.
func (s *Stream) Bytes() []byte { return s.writer.Bytes() }

// MeasuredBits returns the running bit tally. Only valid in ModeMeasure.
func (s *Stream) MeasuredBits() uint { return s.bits }

// MeasuredBytes rounds MeasuredBits up to a whole number of bytes.
func (s *Stream) MeasuredBytes() int { return int((s.bits + 7) / 8) }

func bitsRequired(min, max int64) uint {
	if max <= min {
		return 0
	}
	return uint(bits.Len64(uint64(max - min)))
}

// Int serializes *value as a range-coded integer in [min, max].
func (s *Stream) Int(value *int64, min, max int64) error {
	n := bitsRequired(min, max)
	switch s.mode {
	case ModeWrite:
		if *value < min || *value > max {
			return fmt.Errorf("wire: value %d out of range [%d,%d]", *value, min, max)
		}
		if n == 0 {
			return nil
		}
		return s.writer.WriteBits(uint32(*value-min), n)
	case ModeRead:
		if n == 0 {
			*value = min
			return nil
		}
		v, err := s.reader.ReadBits(n)
		if err != nil {
			return err
		}
		rv := int64(v) + min
		if rv < min || rv > max {
			return fmt.Errorf("wire: decoded value %d out of range [%d,%d]", rv, min, max)
		}
		*value = rv
		return nil
	default: // ModeMeasure
		s.bits += n
		return nil
	}
}

// Bits serializes the low n bits of *value.
func (s *Stream) Bits(value *uint32, n uint) error {
	switch s.mode {
	case ModeWrite:
		return s.writer.WriteBits(*value, n)
	case ModeRead:
		v, err := s.reader.ReadBits(n)
		if err != nil {
			return err
		}
		*value = v
		return nil
	default:
		s.bits += n
		return nil
	}
}

// Bool serializes a single-bit flag.
func (s *Stream) Bool(value *bool) error {
	var v uint32
	if *value {
		v = 1
	}
	if err := s.Bits(&v, 1); err != nil {
		return err
	}
	if s.mode == ModeRead {
		*value = v != 0
	}
	return nil
}

// Align pads/skips to the next byte boundary.
func (s *Stream) Align() error {
	switch s.mode {
	case ModeWrite:
		return s.writer.Align()
	case ModeRead:
		return s.reader.Align()
	default:
		// Worst case before alignment is known, so charge the maximum
		// possible padding; callers doing capacity planning from a
		// measure pass should treat this as an upper bound.
		s.bits += 7
		return nil
	}
}

// BytesField serializes exactly n raw bytes. *buf is replaced on read.
func (s *Stream) BytesField(buf *[]byte, n int) error {
	switch s.mode {
	case ModeWrite:
		return s.writer.WriteBytes((*buf)[:n])
	case ModeRead:
		b, err := s.reader.ReadBytes(n)
		if err != nil {
			return err
		}
		*buf = b
		return nil
	default:
		if err := s.Align(); err != nil {
			return err
		}
		s.bits += uint(n) * 8
		return nil
	}
}
