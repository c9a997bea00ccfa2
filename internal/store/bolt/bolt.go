// Package bolt stores idem records in a bbolt database file.
package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/idem/internal/store"
)

var bucketRequests = []byte("requests")

// Backend implements store.Backend backed by BoltDB.
//
// bbolt holds an exclusive file lock, so only one process may open a given
// file at a time; Open waits up to the configured timeout for it.
type Backend struct {
	db *bolt.DB
}

var _ store.Backend = (*Backend)(nil)

// Open opens (or creates) a BoltDB database at path, creating parent
// directories as needed.
func Open(path string, timeout time.Duration) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRequests)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Backend{db: db}, nil
}

// Load reads the record for key.
func (b *Backend) Load(_ context.Context, key string) (store.Record, bool, error) {
	var rec store.Record
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRequests).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		var err error
		rec, err = store.Decode(v)
		return err
	})
	if err != nil {
		return store.Record{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	return rec, found, nil
}

// Save overwrites the record. The ttl hint is not used.
func (b *Backend) Save(_ context.Context, rec store.Record, _ time.Duration) error {
	data, err := store.Encode(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).Put([]byte(rec.Key), data)
	})
}

// Delete removes the record for key.
func (b *Backend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).Delete([]byte(key))
	})
}

// Keys returns every stored key in byte order.
func (b *Backend) Keys(_ context.Context) ([]string, error) {
	keys := []string{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying BoltDB.
func (b *Backend) Close() error {
	return b.db.Close()
}
