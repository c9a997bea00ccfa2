// Package inflight tracks operations that are executing in this process so
// concurrent callers with the same key can share one execution.
package inflight

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
)

// Handle is the shared outcome of one in-flight execution. It is settled
// exactly once; after Done is closed, Result is immutable.
type Handle struct {
	key    string
	done   chan struct{}
	result json.RawMessage
	err    error

	waiters atomic.Int32
}

// Key returns the key the handle was registered under.
func (h *Handle) Key() string { return h.key }

// Done is closed once the execution settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle settles or ctx is done. When ctx ends first,
// ctx.Err() is returned and the execution keeps running for other waiters.
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	h.waiters.Add(1)
	defer h.waiters.Add(-1)
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Waiters returns how many callers are blocked in Wait.
func (h *Handle) Waiters() int { return int(h.waiters.Load()) }

// Peek returns the settled outcome without blocking. ok is false while the
// execution is still in flight.
func (h *Handle) Peek() (result json.RawMessage, ok bool, err error) {
	select {
	case <-h.done:
		return h.result, true, h.err
	default:
		return nil, false, nil
	}
}

// Registry maps keys to their in-flight handle. The zero value is not usable;
// call New.
type Registry struct {
	mu       sync.Mutex
	inFlight map[string]*Handle
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{inFlight: make(map[string]*Handle)}
}

// TryRegister atomically looks up key and inserts a fresh handle if none
// exists. owner is true only for the caller that inserted it; everyone else
// gets the existing handle to wait on.
func (r *Registry) TryRegister(key string) (h *Handle, owner bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.inFlight[key]; ok {
		return existing, false
	}
	h = &Handle{key: key, done: make(chan struct{})}
	r.inFlight[key] = h
	return h, true
}

// Lookup returns the in-flight handle for key, if any.
func (r *Registry) Lookup(key string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.inFlight[key]
	return h, ok
}

// Resolve settles the handle registered under key, wakes every waiter and
// removes the entry. It is a no-op when key is not in flight.
func (r *Registry) Resolve(key string, result json.RawMessage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.inFlight[key]
	if !ok {
		return
	}
	delete(r.inFlight, key)
	h.result = result
	h.err = err
	close(h.done)
}

// Len returns the number of in-flight keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// Keys returns the in-flight keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.inFlight))
	for k := range r.inFlight {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}
