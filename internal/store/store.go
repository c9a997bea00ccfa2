package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ResultStore applies expiry and failure classification on top of a Backend.
//
// Thread-safety: ResultStore is as safe for concurrent use as its Backend;
// every bundled backend is.
type ResultStore struct {
	backend Backend
	now     func() time.Time
}

// New wraps backend. now is the clock used for expiry; nil means time.Now.
func New(backend Backend, now func() time.Time) *ResultStore {
	if now == nil {
		now = time.Now
	}
	return &ResultStore{backend: backend, now: now}
}

// Get returns the live record for key.
//
// A record past its ExpiresAt is reported as absent and deleted; a failure
// to delete it is ignored since the record is already logically gone.
func (s *ResultStore) Get(ctx context.Context, key string) (Record, bool, error) {
	rec, found, err := s.backend.Load(ctx, key)
	if err != nil {
		return Record{}, false, unavailable("get", key, err)
	}
	if !found {
		return Record{}, false, nil
	}
	if rec.Expired(s.now()) {
		_ = s.backend.Delete(ctx, key)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Put overwrites the record stored under rec.Key.
func (s *ResultStore) Put(ctx context.Context, rec Record) error {
	if rec.Key == "" {
		return fmt.Errorf("put: record key is empty")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("put %s: unknown status %q", rec.Key, rec.Status)
	}
	ttl := rec.ExpiresAt.Sub(s.now())
	return unavailable("put", rec.Key, s.backend.Save(ctx, rec, ttl))
}

// Remove deletes the record for key. Removing a missing key is not an error.
func (s *ResultStore) Remove(ctx context.Context, key string) error {
	return unavailable("remove", key, s.backend.Delete(ctx, key))
}

// Keys returns every stored key in lexical order, expired ones included.
func (s *ResultStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, unavailable("keys", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// List returns every live record ordered by key.
func (s *ResultStore) List(ctx context.Context) ([]Record, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, found, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, rec)
		}
	}
	return records, nil
}

// SweepExpired deletes every expired record and returns how many were removed.
func (s *ResultStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	if d, ok := s.backend.(ExpiredDeleter); ok {
		n, err := d.DeleteExpired(ctx, now)
		return n, unavailable("sweep", "", err)
	}

	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, unavailable("sweep", "", err)
	}
	removed := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		rec, found, err := s.backend.Load(ctx, k)
		if err != nil {
			return removed, unavailable("sweep", k, err)
		}
		if !found || !rec.Expired(now) {
			continue
		}
		if err := s.backend.Delete(ctx, k); err != nil {
			return removed, unavailable("sweep", k, err)
		}
		removed++
	}
	return removed, nil
}

// Close releases the backend.
func (s *ResultStore) Close() error {
	return s.backend.Close()
}
