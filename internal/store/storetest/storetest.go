// Package storetest is the conformance suite every store.Backend runs.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idem/internal/store"
)

// Factory opens backends under test.
type Factory struct {
	// Open returns a fresh, empty backend. The suite closes it.
	Open func(t *testing.T) store.Backend

	// Reopen closes b and opens a new backend over the same medium.
	// Nil for process-local backends; durability checks are then skipped.
	Reopen func(t *testing.T, b store.Backend) store.Backend
}

// T0 is the reference instant records in the suite are created at.
var T0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Record builds a record created at T0 with the given retention.
func Record(key string, status store.Status, retention time.Duration) store.Record {
	rec := store.Record{
		Key:       key,
		Status:    status,
		CreatedAt: T0,
		ExpiresAt: T0.Add(retention),
		Attempt:   "attempt-" + key,
	}
	switch status {
	case store.StatusSuccess:
		rec.Result = json.RawMessage(`{"charge_id":"ch_` + key + `"}`)
	case store.StatusError:
		rec.Error = &store.ErrorInfo{Message: "card declined", Stack: "at charge()"}
	}
	return rec
}

// AssertRecordEqual compares records field by field, using time.Equal for timestamps.
func AssertRecordEqual(t *testing.T, want, got store.Record) {
	t.Helper()
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt: want %v, got %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiresAt: want %v, got %v", want.ExpiresAt, got.ExpiresAt)
	if want.Result == nil {
		assert.Empty(t, got.Result)
	} else {
		assert.JSONEq(t, string(want.Result), string(got.Result))
	}
	assert.Equal(t, want.Error, got.Error)
	assert.Equal(t, want.Attempt, got.Attempt)
}

// Run executes the conformance suite against f.
func Run(t *testing.T, f Factory) {
	t.Helper()

	open := func(t *testing.T) store.Backend {
		b := f.Open(t)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		b := open(t)
		_, found, err := b.Load(ctx, "idem_pay_missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("SaveLoad", func(t *testing.T) {
		b := open(t)
		for _, status := range []store.Status{store.StatusPending, store.StatusSuccess, store.StatusError} {
			rec := Record("idem_pay_"+string(status), status, 24*time.Hour)
			require.NoError(t, b.Save(ctx, rec, 24*time.Hour))

			got, found, err := b.Load(ctx, rec.Key)
			require.NoError(t, err)
			require.True(t, found, "status %s", status)
			AssertRecordEqual(t, rec, got)
		}
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		b := open(t)
		pending := Record("idem_pay_k", store.StatusPending, time.Hour)
		require.NoError(t, b.Save(ctx, pending, time.Hour))

		settled := Record("idem_pay_k", store.StatusSuccess, time.Hour)
		require.NoError(t, b.Save(ctx, settled, time.Hour))

		got, found, err := b.Load(ctx, "idem_pay_k")
		require.NoError(t, err)
		require.True(t, found)
		AssertRecordEqual(t, settled, got)

		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		b := open(t)
		rec := Record("idem_pay_k", store.StatusSuccess, time.Hour)
		require.NoError(t, b.Save(ctx, rec, time.Hour))
		require.NoError(t, b.Delete(ctx, rec.Key))

		_, found, err := b.Load(ctx, rec.Key)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, b.Delete(ctx, rec.Key), "deleting a missing key is not an error")
	})

	t.Run("Keys", func(t *testing.T) {
		b := open(t)
		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)

		for _, k := range []string{"idem_b_1", "idem_a_1", "idem_c_1"} {
			require.NoError(t, b.Save(ctx, Record(k, store.StatusSuccess, time.Hour), time.Hour))
		}
		keys, err = b.Keys(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"idem_a_1", "idem_b_1", "idem_c_1"}, keys)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		b := open(t)
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				k := fmt.Sprintf("idem_pay_%02d", i)
				errs <- b.Save(ctx, Record(k, store.StatusSuccess, time.Hour), time.Hour)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, n)
	})

	t.Run("ResultStoreExpiry", func(t *testing.T) {
		b := open(t)
		now := T0
		s := store.New(b, func() time.Time { return now })

		require.NoError(t, s.Put(ctx, Record("idem_pay_short", store.StatusSuccess, time.Hour)))
		require.NoError(t, s.Put(ctx, Record("idem_pay_long", store.StatusSuccess, 48*time.Hour)))

		now = T0.Add(2 * time.Hour)
		_, found, err := s.Get(ctx, "idem_pay_short")
		require.NoError(t, err)
		assert.False(t, found, "expired record must read as absent")

		_, found, err = b.Load(ctx, "idem_pay_short")
		require.NoError(t, err)
		assert.False(t, found, "expired record must be evicted on read")

		_, found, err = s.Get(ctx, "idem_pay_long")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("ResultStoreSweep", func(t *testing.T) {
		b := open(t)
		now := T0
		s := store.New(b, func() time.Time { return now })

		require.NoError(t, s.Put(ctx, Record("idem_a_1", store.StatusSuccess, time.Hour)))
		require.NoError(t, s.Put(ctx, Record("idem_b_1", store.StatusPending, time.Hour)))
		require.NoError(t, s.Put(ctx, Record("idem_c_1", store.StatusError, 48*time.Hour)))

		now = T0.Add(2 * time.Hour)
		removed, err := s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"idem_c_1"}, keys)
	})

	if f.Reopen == nil {
		return
	}

	t.Run("SurvivesReopen", func(t *testing.T) {
		b := f.Open(t)
		rec := Record("idem_pay_durable", store.StatusSuccess, 24*time.Hour)
		require.NoError(t, b.Save(ctx, rec, 24*time.Hour))

		b = f.Reopen(t, b)
		t.Cleanup(func() { _ = b.Close() })

		got, found, err := b.Load(ctx, rec.Key)
		require.NoError(t, err)
		require.True(t, found)
		AssertRecordEqual(t, rec, got)
	})
}
