// Package persist checkpoints a server's encryption-mapping table and
// connect-token replay table to a bbolt database, so a restart does not
// force every live client through the handshake again and does not
// forget recently-seen connect tokens.
package persist

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	bolt "go.etcd.io/bbolt"

	"github.com/quiverio/quiver/handshake"
	"github.com/quiverio/quiver/token"
)

var (
	bucketMapping = []byte("mapping")
	bucketReplay  = []byte("replay")
)

// Store wraps a bbolt database holding the two checkpointed tables.
type Store struct {
	db  *bolt.DB
	log *log.Logger
}

// Open opens (creating if necessary) the bbolt statefile at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open statefile %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMapping); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketReplay)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db, log: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveMapping overwrites the mapping bucket with the table's current
// snapshot. Each entry is keyed by address and CBOR-encoded, matching
// the wire encoding used everywhere else key material crosses a
// serialization boundary.
func (s *Store) SaveMapping(table *handshake.MappingTable) error {
	entries := table.Snapshot()
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := clearBucket(tx, bucketMapping); err != nil {
			return err
		}
		b := tx.Bucket(bucketMapping)
		for _, e := range entries {
			data, err := encodeMappingEntry(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(e.Address), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadMapping restores table from the persisted mapping bucket.
func (s *Store) LoadMapping(table *handshake.MappingTable) error {
	var entries []handshake.SnapshotEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMapping)
		return b.ForEach(func(k, v []byte) error {
			e, err := decodeMappingEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return err
	}
	table.Restore(entries)
	s.log.Debugf("restored %d mapping entries", len(entries))
	return nil
}

// SaveReplay overwrites the replay bucket with the table's current
// snapshot, keyed by sequential insertion order so Restore can rebuild
// LRU ordering.
func (s *Store) SaveReplay(rt *token.ReplayTable) error {
	entries := rt.Snapshot()
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := clearBucket(tx, bucketReplay); err != nil {
			return err
		}
		b := tx.Bucket(bucketReplay)
		for i, e := range entries {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(i))
			data, err := encodeReplayEntry(e)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadReplay restores rt from the persisted replay bucket.
func (s *Store) LoadReplay(rt *token.ReplayTable) error {
	var entries []token.SnapshotEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReplay)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := decodeReplayEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rt.Restore(entries)
	s.log.Debugf("restored %d replay entries", len(entries))
	return nil
}

func clearBucket(tx *bolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucket(name)
	return err
}
