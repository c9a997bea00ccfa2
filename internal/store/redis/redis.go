// Package redis stores idem records in Redis, one string value per key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/idem/internal/store"
)

// DefaultPrefix namespaces record keys inside a shared Redis database.
const DefaultPrefix = "idem:"

// Backend implements store.Backend over a go-redis client.
//
// Saves set a native TTL from the hint so Redis reclaims expired records on
// its own; the ResultStore still applies logical expiry on read.
type Backend struct {
	client *goredis.Client
	prefix string
}

var _ store.Backend = (*Backend)(nil)

// Open connects to addr and pings it before returning.
func Open(ctx context.Context, addr, prefix string) (*Backend, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(client *goredis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) Load(ctx context.Context, key string) (store.Record, bool, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	rec, err := store.Decode(data)
	if err != nil {
		return store.Record{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	return rec, true, nil
}

// Save writes rec. A non-positive ttl writes it without expiry.
func (b *Backend) Save(ctx context.Context, rec store.Record, ttl time.Duration) error {
	data, err := store.Encode(rec)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := b.client.Set(ctx, b.prefix+rec.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", rec.Key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Keys scans the prefix. SCAN may return a key more than once, so results
// are deduplicated.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	keys := []string{}
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()[len(b.prefix):]
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
