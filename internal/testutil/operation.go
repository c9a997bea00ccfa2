package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Operation is a scripted unit of work that counts its invocations.
//
// Run has the engine.Operation signature, so tests pass op.Run directly.
// When built with a gate, Run blocks after signalling Started until Release
// is called, which lets tests hold an execution in flight.
type Operation struct {
	result json.RawMessage
	err    error
	panicV any

	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
	release sync.Once
}

// Succeeds returns an operation that yields result.
func Succeeds(result string) *Operation {
	return &Operation{result: json.RawMessage(result), started: make(chan struct{})}
}

// Fails returns an operation that yields err.
func Fails(err error) *Operation {
	return &Operation{err: err, started: make(chan struct{})}
}

// Panics returns an operation that panics with v.
func Panics(v any) *Operation {
	return &Operation{panicV: v, started: make(chan struct{})}
}

// Gated makes Run block until Release.
func (o *Operation) Gated() *Operation {
	o.gate = make(chan struct{})
	return o
}

// Run executes the scripted outcome.
func (o *Operation) Run(ctx context.Context) (json.RawMessage, error) {
	o.calls.Add(1)
	o.once.Do(func() { close(o.started) })
	if o.gate != nil {
		<-o.gate
	}
	if o.panicV != nil {
		panic(o.panicV)
	}
	return o.result, o.err
}

// Started is closed on the first invocation.
func (o *Operation) Started() <-chan struct{} { return o.started }

// Release unblocks a gated operation. Safe to call more than once.
func (o *Operation) Release() {
	if o.gate == nil {
		return
	}
	o.release.Do(func() { close(o.gate) })
}

// Calls returns how many times Run was invoked.
func (o *Operation) Calls() int {
	return int(o.calls.Load())
}
