package inflight

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryRegister_FirstCallerOwns(t *testing.T) {
	r := New()

	h1, owner := r.TryRegister("k")
	require.True(t, owner)

	h2, owner := r.TryRegister("k")
	assert.False(t, owner)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, r.Len())
}

func TestResolve_WakesWaitersAndRemoves(t *testing.T) {
	r := New()
	h, _ := r.TryRegister("k")

	r.Resolve("k", json.RawMessage(`{"ok":true}`), nil)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 0, r.Len())

	_, found := r.Lookup("k")
	assert.False(t, found)
}

func TestResolve_PropagatesError(t *testing.T) {
	r := New()
	h, _ := r.TryRegister("k")
	boom := errors.New("boom")

	r.Resolve("k", nil, boom)

	_, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestResolve_AbsentKeyIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.Resolve("missing", nil, nil) })
}

func TestResolve_Twice(t *testing.T) {
	r := New()
	h, _ := r.TryRegister("k")

	r.Resolve("k", json.RawMessage(`1`), nil)
	assert.NotPanics(t, func() { r.Resolve("k", json.RawMessage(`2`), nil) })

	result, ok, err := h.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, `1`, string(result))
}

func TestRegister_AfterResolveStartsNewGeneration(t *testing.T) {
	r := New()
	first, _ := r.TryRegister("k")
	r.Resolve("k", nil, nil)

	second, owner := r.TryRegister("k")
	assert.True(t, owner)
	assert.NotSame(t, first, second)
}

func TestWait_ContextCancelled(t *testing.T) {
	r := New()
	h, _ := r.TryRegister("k")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok, _ := h.Peek()
	assert.False(t, ok, "cancelling a waiter must not settle the handle")
	assert.Equal(t, 1, r.Len())
}

func TestKeys_Sorted(t *testing.T) {
	r := New()
	for _, k := range []string{"c", "a", "b"} {
		r.TryRegister(k)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
}

func TestTryRegister_ConcurrentSingleOwner(t *testing.T) {
	r := New()
	const n = 64

	var owners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	handles := make([]*Handle, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, owner := r.TryRegister("k")
			if owner {
				owners.Add(1)
			}
			handles[i] = h
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), owners.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}

	r.Resolve("k", json.RawMessage(`"done"`), nil)
	for _, h := range handles {
		result, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, `"done"`, string(result))
	}
}

func TestWait_CountsWaiters(t *testing.T) {
	r := New()
	h, _ := r.TryRegister("k")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.Wait(context.Background())
	}()

	assert.Eventually(t, func() bool { return h.Waiters() == 1 }, time.Second, time.Millisecond)
	r.Resolve("k", nil, nil)
	<-done
	assert.Equal(t, 0, h.Waiters())
}
