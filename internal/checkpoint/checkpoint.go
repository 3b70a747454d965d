// Package checkpoint stores per-iteration optimizer snapshots in a bbolt file
// so an interrupted training run can resume.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/happyhackingspace/seqlab/internal/codec"
)

// ErrNotFound reports a missing snapshot.
var ErrNotFound = errors.New("checkpoint: not found")

var bucket = []byte("checkpoints")

// Store is a bbolt-backed snapshot store keyed by iteration.
type Store struct {
	filename string
	db       *bolt.DB
	// Keep limits stored snapshots to the most recent Keep; 0 keeps all.
	Keep int
}

// Open opens or creates the store at filename.
func Open(filename string) (*Store, error) {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	db, err := bolt.Open(filename, 0644, opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", filename, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: init %s: %w", filename, err)
	}
	return &Store{filename: filename, db: db}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(iteration int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(iteration))
	return k
}

// Put stores a snapshot, replacing any earlier one for the same iteration,
// then prunes beyond Keep.
func (s *Store) Put(snap codec.Snapshot) error {
	slog.Debug("Writing checkpoint", "path", s.filename, "iteration", snap.Iteration)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if err := b.Put(key(snap.Iteration), codec.MarshalSnapshot(snap)); err != nil {
			return err
		}
		if s.Keep <= 0 {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for len(keys) > s.Keep {
			if err := b.Delete(keys[0]); err != nil {
				return err
			}
			keys = keys[1:]
		}
		return nil
	})
}

// Get returns the snapshot for an iteration.
func (s *Store) Get(iteration int) (codec.Snapshot, error) {
	var snap codec.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key(iteration))
		if v == nil {
			return fmt.Errorf("%w: iteration %d", ErrNotFound, iteration)
		}
		var err error
		snap, err = codec.UnmarshalSnapshot(v)
		return err
	})
	return snap, err
}

// Latest returns the snapshot with the highest iteration.
func (s *Store) Latest() (codec.Snapshot, error) {
	var snap codec.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucket).Cursor().Last()
		if v == nil {
			return fmt.Errorf("%w: store is empty", ErrNotFound)
		}
		var err error
		snap, err = codec.UnmarshalSnapshot(v)
		return err
	})
	return snap, err
}

// Iterations lists stored iterations in ascending order.
func (s *Store) Iterations() ([]int, error) {
	var its []int
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, _ []byte) error {
			its = append(its, int(binary.BigEndian.Uint64(k)))
			return nil
		})
	})
	return its, err
}
