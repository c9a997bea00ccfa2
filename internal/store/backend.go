package store

import (
	"context"
	"time"
)

// Backend is a storage medium for records.
//
// Backends store and return records verbatim; expiry semantics live in
// ResultStore. Load returns found=false (and no error) for a missing key.
// Delete of a missing key is not an error.
type Backend interface {
	Load(ctx context.Context, key string) (rec Record, found bool, err error)

	// Save overwrites the record for rec.Key. ttl is the time remaining
	// until rec.ExpiresAt; media with native expiry may use it, others
	// may ignore it.
	Save(ctx context.Context, rec Record, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// ExpiredDeleter is implemented by backends that can drop expired records
// in one pass. ResultStore.SweepExpired prefers it over a key scan.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
