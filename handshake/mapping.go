// Package handshake implements the client and server handshake state
// machines (connection request, challenge, response, keep-alive) and
// the server's encryption-mapping table: the bounded set of per-address
// send/receive keys and timeouts a server tracks for every client that
// has begun or completed a handshake.
package handshake

import (
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"gitlab.com/yawning/avl.git"
)

// Entry is one address's encryption-mapping state.
type Entry struct {
	Address           string
	ClientID          uint64
	ClientToServerKey *memguard.LockedBuffer
	ServerToClientKey *memguard.LockedBuffer
	Established       bool
	LastRecvTime      float64
	TimeoutSecs       float64

	// Nonce is the connect token's nonce, reused as the additional-data
	// binding for every enveloped handshake packet exchanged with this
	// address once the challenge has been issued.
	Nonce uint64
	// HandshakeSendSeq is this entry's outgoing envelope sequence
	// counter, incremented once per sealed handshake packet.
	HandshakeSendSeq uint64
}

func (e *Entry) destroy() {
	if e.ClientToServerKey != nil {
		e.ClientToServerKey.Destroy()
	}
	if e.ServerToClientKey != nil {
		e.ServerToClientKey.Destroy()
	}
}

// timeoutKey orders entries for the AVL sweep by (lastRecvTime, address)
// so Prune can walk the tree in expiry order without a linear scan.
type timeoutKey struct {
	lastRecvTime float64
	address      string
	entry        *Entry
}

func (k *timeoutKey) Compare(other interface{}) int {
	o := other.(*timeoutKey)
	switch {
	case k.lastRecvTime < o.lastRecvTime:
		return -1
	case k.lastRecvTime > o.lastRecvTime:
		return 1
	default:
		return strings.Compare(k.address, o.address)
	}
}

// MappingTable is a bounded, address-keyed table of encryption state,
// with an AVL tree keyed by last-receive-time so Prune can sweep expired
// entries in O(log n + k) rather than scanning every entry every tick.
// It does not evict on its own when full — a caller enforcing an
// admission policy (e.g. a server's max-clients bound) must reject new
// entries itself before calling Upsert; silently evicting a live
// session to make room for an unrelated new one is never correct.
type MappingTable struct {
	mu         sync.Mutex
	capacity   int
	byAddr     map[string]*timeoutKey
	byClientID map[uint64]string
	tree       *avl.Tree
}

// NewMappingTable returns an empty MappingTable, sized for capacity
// concurrent address entries.
func NewMappingTable(capacity int) *MappingTable {
	return &MappingTable{
		capacity:   capacity,
		byAddr:     make(map[string]*timeoutKey, capacity),
		byClientID: make(map[uint64]string, capacity),
		tree:       avl.New(),
	}
}

// Upsert locks in (or replaces) the encryption keys for address,
// wrapping them in memguard buffers so the key material is locked out
// of swap and zeroed on destroy. Callers enforcing a capacity bound must
// check Len against it before calling Upsert for a new address.
func (m *MappingTable) Upsert(address string, clientID, nonce uint64, clientToServerKey, serverToClientKey [32]byte, now, timeoutSecs float64) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byAddr[address]; ok {
		m.tree.Remove(old)
		if m.byClientID[old.entry.ClientID] == address {
			delete(m.byClientID, old.entry.ClientID)
		}
		old.entry.destroy()
		delete(m.byAddr, address)
	}

	sendCopy := append([]byte(nil), clientToServerKey[:]...)
	recvCopy := append([]byte(nil), serverToClientKey[:]...)
	entry := &Entry{
		Address:           address,
		ClientID:          clientID,
		ClientToServerKey: memguard.NewBufferFromBytes(sendCopy),
		ServerToClientKey: memguard.NewBufferFromBytes(recvCopy),
		LastRecvTime:      now,
		TimeoutSecs:       timeoutSecs,
		Nonce:             nonce,
	}
	entry.ClientToServerKey.Freeze()
	entry.ServerToClientKey.Freeze()

	k := &timeoutKey{lastRecvTime: now, address: address, entry: entry}
	m.tree.Insert(k)
	m.byAddr[address] = k
	m.byClientID[clientID] = address

	return entry
}

// Find returns the entry for address, if any.
func (m *MappingTable) Find(address string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byAddr[address]
	if !ok {
		return nil, false
	}
	return k.entry, true
}

// FindByClientID returns the address currently bound to clientID, if
// any, so a server can reject a connect token binding a client id that
// is already owned by a different address.
func (m *MappingTable) FindByClientID(clientID uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.byClientID[clientID]
	return addr, ok
}

// Touch bumps an entry's last-receive-time, resorting it in the sweep
// tree. Call this whenever a packet is accepted from address.
func (m *MappingTable) Touch(address string, now float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byAddr[address]
	if !ok {
		return
	}
	m.tree.Remove(k)
	newKey := &timeoutKey{lastRecvTime: now, address: address, entry: k.entry}
	k.entry.LastRecvTime = now
	m.tree.Insert(newKey)
	m.byAddr[address] = newKey
}

// Remove evicts address's entry immediately, zeroing its keys.
func (m *MappingTable) Remove(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byAddr[address]
	if !ok {
		return
	}
	m.tree.Remove(k)
	delete(m.byAddr, address)
	if m.byClientID[k.entry.ClientID] == address {
		delete(m.byClientID, k.entry.ClientID)
	}
	k.entry.destroy()
}

// Prune evicts every entry whose timeout has elapsed as of now,
// starting from the least-recently-seen and stopping at the first
// entry still within its timeout.
func (m *MappingTable) Prune(now float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		node := m.tree.Min()
		if node == nil {
			return
		}
		k := node.Value().(*timeoutKey)
		if now-k.lastRecvTime < k.entry.TimeoutSecs {
			return
		}
		m.tree.Remove(k)
		delete(m.byAddr, k.address)
		if m.byClientID[k.entry.ClientID] == k.address {
			delete(m.byClientID, k.entry.ClientID)
		}
		k.entry.destroy()
	}
}

// Len returns the number of tracked addresses.
func (m *MappingTable) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAddr)
}

// SnapshotEntry is one persisted mapping record. Keys are copied out of
// their memguard buffers, so callers must treat the returned slice with
// the same care as any other in-memory key material.
type SnapshotEntry struct {
	Address           string
	ClientID          uint64
	ClientToServerKey [32]byte
	ServerToClientKey [32]byte
	Established       bool
	LastRecvTime      float64
	TimeoutSecs       float64
}

// Snapshot returns every tracked entry for checkpointing to durable
// storage across restarts.
func (m *MappingTable) Snapshot() []SnapshotEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SnapshotEntry, 0, len(m.byAddr))
	for addr, k := range m.byAddr {
		e := k.entry
		se := SnapshotEntry{
			Address:      addr,
			ClientID:     e.ClientID,
			Established:  e.Established,
			LastRecvTime: e.LastRecvTime,
			TimeoutSecs:  e.TimeoutSecs,
		}
		copy(se.ClientToServerKey[:], e.ClientToServerKey.Bytes())
		copy(se.ServerToClientKey[:], e.ServerToClientKey.Bytes())
		out = append(out, se)
	}
	return out
}

// Restore repopulates the table from a prior Snapshot. Restored entries
// are always past the handshake phase (Established, or about to be
// marked so), so their handshake-envelope nonce is irrelevant and left
// at zero.
func (m *MappingTable) Restore(entries []SnapshotEntry) {
	for _, se := range entries {
		entry := m.Upsert(se.Address, se.ClientID, 0, se.ClientToServerKey, se.ServerToClientKey, se.LastRecvTime, se.TimeoutSecs)
		entry.Established = se.Established
	}
}
