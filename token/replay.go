package token

import (
	"container/list"
	"sync"
	"time"

	"github.com/yawning/bloom"
)

// ReplayTable is the bounded, LRU-evicted table of connect-token MACs
// (the sealed private section's trailing authentication tag) a server
// has already accepted. A MAC may be accepted from exactly one address:
// a repeat appearance from the same address is a legitimate resend (the
// client hasn't heard back yet and is retrying the unchanged token) and
// is accepted again; a repeat from a different address is a replay and
// is rejected. A bloom filter sits in front of the exact lookup as a
// pure accelerator: a negative from the bloom filter proves the token
// is new without touching the map or the lock-protected list, but a
// positive always falls through to the authoritative map check — the
// bloom filter is never itself the correctness boundary.
type ReplayTable struct {
	mu       sync.Mutex
	capacity int
	filter   *bloom.BloomFilter
	entries  map[[PrivateTau]byte]*list.Element
	order    *list.List // front = most recently used
}

type replayEntry struct {
	mac     [PrivateTau]byte
	address string
	seen    time.Time
}

// NewReplayTable returns a ReplayTable holding up to capacity entries.
func NewReplayTable(capacity int) *ReplayTable {
	return &ReplayTable{
		capacity: capacity,
		filter:   bloom.New(uint(capacity*10), 5),
		entries:  make(map[[PrivateTau]byte]*list.Element, capacity),
		order:    list.New(),
	}
}

// CheckAndInsert reports whether mac may be accepted from address: true
// the first time it is seen, and true again for a resend from the same
// address. A matching mac seen from a different address is rejected.
func (t *ReplayTable) CheckAndInsert(mac [PrivateTau]byte, address string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filter.Test(mac[:]) {
		if ok, accept := t.admitExistingLocked(mac, address, now); ok {
			return accept
		}
		// Bloom false positive: fall through and admit as new.
	}

	t.filter.Add(mac[:])
	el := t.order.PushFront(&replayEntry{mac: mac, address: address, seen: now})
	t.entries[mac] = el
	if t.order.Len() > t.capacity {
		back := t.order.Back()
		if back != nil {
			t.order.Remove(back)
			delete(t.entries, back.Value.(*replayEntry).mac)
		}
	}
	return true
}

// admitExistingLocked looks up an already-tracked mac. The first return
// value reports whether an entry exists at all; the second reports
// whether it should be admitted (same address) or rejected (different
// address). Caller must hold t.mu.
func (t *ReplayTable) admitExistingLocked(mac [PrivateTau]byte, address string, now time.Time) (found, accept bool) {
	el, ok := t.entries[mac]
	if !ok {
		return false, false
	}
	t.order.MoveToFront(el)
	e := el.Value.(*replayEntry)
	if e.address != address {
		return true, false
	}
	e.seen = now
	return true, true
}

// Len returns the number of entries currently tracked.
func (t *ReplayTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// SnapshotEntry is one persisted replay record.
type SnapshotEntry struct {
	MAC     [PrivateTau]byte
	Address string
	Seen    time.Time
}

// Snapshot returns every tracked entry, oldest first, for checkpointing
// to durable storage across restarts.
func (t *ReplayTable) Snapshot() []SnapshotEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SnapshotEntry, 0, t.order.Len())
	for el := t.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*replayEntry)
		out = append(out, SnapshotEntry{MAC: e.mac, Address: e.address, Seen: e.seen})
	}
	return out
}

// Restore repopulates the table from a prior Snapshot, oldest first, so
// LRU order across a restart matches the order entries were seen.
func (t *ReplayTable) Restore(entries []SnapshotEntry) {
	for _, e := range entries {
		t.CheckAndInsert(e.MAC, e.Address, e.Seen)
	}
}
