// Package memory keeps idem records in a process-local TTL cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/roach88/idem/internal/store"
)

// Backend implements store.Backend over a ttlcache.Cache. Records are held
// encoded so callers never share result buffers with the cache.
//
// Entries carry the ttl hint passed to Save; the cache's janitor drops them
// once it elapses. Nothing survives a restart.
type Backend struct {
	cache     *ttlcache.Cache[string, []byte]
	closeOnce sync.Once
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend and starts its expiry janitor. Close stops it.
func New() *Backend {
	c := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go c.Start()
	return &Backend{cache: c}
}

func (b *Backend) Load(_ context.Context, key string) (store.Record, bool, error) {
	item := b.cache.Get(key)
	if item == nil {
		return store.Record{}, false, nil
	}
	rec, err := store.Decode(item.Value())
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// Save stores rec. A non-positive ttl stores it without native expiry.
func (b *Backend) Save(_ context.Context, rec store.Record, ttl time.Duration) error {
	data, err := store.Encode(rec)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	b.cache.Set(rec.Key, data, ttl)
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

func (b *Backend) Keys(_ context.Context) ([]string, error) {
	keys := b.cache.Keys()
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Len reports the number of cached entries, including ones the janitor has
// not reached yet.
func (b *Backend) Len() int {
	return b.cache.Len()
}

func (b *Backend) Close() error {
	b.closeOnce.Do(b.cache.Stop)
	return nil
}
