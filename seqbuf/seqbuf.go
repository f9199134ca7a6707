// Package seqbuf implements a generic fixed-capacity circular buffer
// indexed by sequence number modulo its size, with an occupancy token
// per slot so stale/absent entries can be told apart from slot zero
// values. Reliability uses one instance each for sent records, received
// records, and in-flight fragment reassembly state.
package seqbuf

import "github.com/quiverio/quiver/internal/seq"

const emptySlot = 0xFFFFFFFF

// CleanupFunc is invoked on an entry immediately before its slot is
// reclaimed by a newer sequence number, so it can release any resources
// the entry owns (e.g. a reassembly record's payload buffer).
type CleanupFunc[T any] func(entry *T)

// Buffer is a ring of N entries of type T, keyed by sequence number.
type Buffer[T any] struct {
	entries   []T
	occupancy []uint32
	size      uint16
	latest    uint16
	cleanup   CleanupFunc[T]
}

// New returns a Buffer with the given capacity. cleanup may be nil.
func New[T any](size int, cleanup CleanupFunc[T]) *Buffer[T] {
	b := &Buffer[T]{
		entries:   make([]T, size),
		occupancy: make([]uint32, size),
		size:      uint16(size),
		cleanup:   cleanup,
	}
	b.Reset()
	return b
}

// Reset empties the buffer, invoking cleanup on every occupied slot.
func (b *Buffer[T]) Reset() {
	for i := range b.occupancy {
		if b.occupancy[i] != emptySlot && b.cleanup != nil {
			b.cleanup(&b.entries[i])
		}
		b.occupancy[i] = emptySlot
	}
	b.latest = 0
}

// Size returns the buffer's capacity.
func (b *Buffer[T]) Size() int { return int(b.size) }

// Latest returns one past the highest sequence number ever inserted.
func (b *Buffer[T]) Latest() uint16 { return b.latest }

func (b *Buffer[T]) index(s uint16) int { return int(s) % int(b.size) }

// TestInsert reports whether s is new enough to be accepted: anything
// at or newer than latest-size is admissible, everything older is stale.
func (b *Buffer[T]) TestInsert(s uint16) bool {
	return !seq.LessThan(s, b.latest-b.size)
}

// Insert admits sequence s, advancing the window (and evicting/cleaning
// up any now-stale entries) if s is newer than every previous insert. It
// returns a pointer to the (possibly stale, caller-must-populate) slot
// and whether the insert was accepted.
func (b *Buffer[T]) Insert(s uint16) (*T, bool) {
	if !b.TestInsert(s) {
		return nil, false
	}
	if seq.GreaterThan(s+1, b.latest) {
		b.advance(s + 1)
	}
	idx := b.index(s)
	b.occupancy[idx] = uint32(s)
	return &b.entries[idx], true
}

func (b *Buffer[T]) advance(newLatest uint16) {
	delta := newLatest - b.latest
	if delta > b.size {
		for i := range b.occupancy {
			if b.occupancy[i] != emptySlot && b.cleanup != nil {
				b.cleanup(&b.entries[i])
			}
			b.occupancy[i] = emptySlot
		}
	} else {
		for s := b.latest; s != newLatest; s++ {
			idx := b.index(s)
			if b.occupancy[idx] != emptySlot {
				if b.cleanup != nil {
					b.cleanup(&b.entries[idx])
				}
				b.occupancy[idx] = emptySlot
			}
		}
	}
	b.latest = newLatest
}

// AdvanceTo manually slides the window forward to newLatest (one past
// the highest sequence now considered seen), discarding/cleaning up any
// stale entries that fall out of the window. It is a no-op if newLatest
// is not newer than the current latest.
func (b *Buffer[T]) AdvanceTo(newLatest uint16) {
	if seq.GreaterThan(newLatest, b.latest) {
		b.advance(newLatest)
	}
}

// Find returns the entry stored for sequence s, if any.
func (b *Buffer[T]) Find(s uint16) (*T, bool) {
	idx := b.index(s)
	if b.occupancy[idx] == uint32(s) {
		return &b.entries[idx], true
	}
	return nil, false
}

// Exists reports whether s currently has a live entry.
func (b *Buffer[T]) Exists(s uint16) bool {
	_, ok := b.Find(s)
	return ok
}

// Remove clears the entry for s, invoking cleanup if present.
func (b *Buffer[T]) Remove(s uint16) bool {
	idx := b.index(s)
	if b.occupancy[idx] != uint32(s) {
		return false
	}
	if b.cleanup != nil {
		b.cleanup(&b.entries[idx])
	}
	b.occupancy[idx] = emptySlot
	return true
}

// GenerateAckBits returns a 32-bit mask over the 32 sequence numbers at
// and below ack (= Latest()-1): bit i set means ack-i has a live entry.
func (b *Buffer[T]) GenerateAckBits() uint32 {
	ack := b.latest - 1
	var bits uint32
	for i := uint16(0); i < 32; i++ {
		if b.Exists(ack - i) {
			bits |= 1 << i
		}
	}
	return bits
}
