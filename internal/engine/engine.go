package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/idem/internal/inflight"
	"github.com/roach88/idem/internal/key"
	"github.com/roach88/idem/internal/store"
)

// DefaultRetention is how long a record stays live after its pending phase
// starts, unless the policy overrides it.
const DefaultRetention = 24 * time.Hour

// Operation is the unit of work executed at most once per key. The returned
// value must be valid JSON, or nil.
type Operation func(ctx context.Context) (json.RawMessage, error)

// Policy controls how Execute treats a key that is already known.
type Policy struct {
	// SkipIfPending fails with AlreadyInProgress instead of waiting when the
	// key is executing, or has a pending record with no local execution.
	SkipIfPending bool

	// RetryOnError re-runs the operation when the key settled as an error.
	RetryOnError bool

	// Retention overrides the engine's retention for records written by
	// this call. Zero means the engine default.
	Retention time.Duration
}

// Source says where a Result came from.
type Source string

const (
	SourceExecuted  Source = "executed"
	SourceReplayed  Source = "replayed"
	SourceCoalesced Source = "coalesced"
)

// Result is the outcome of Execute.
type Result struct {
	Key    key.Key
	Value  json.RawMessage
	Source Source
}

// Engine is the orchestrator. It is safe for concurrent use.
type Engine struct {
	store     *store.ResultStore
	registry  *inflight.Registry
	deriver   *key.Deriver
	clock     Clock
	retention time.Duration
	logger    *slog.Logger
	attempts  AttemptIDGenerator
	metrics   *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for record timestamps. Unless WithDeriver is
// also given, key buckets follow the same clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDeriver replaces the key deriver.
func WithDeriver(d *key.Deriver) Option {
	return func(e *Engine) { e.deriver = d }
}

// WithRetention sets the default retention. Default: 24h (DefaultRetention).
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry shares an in-flight registry between engines.
func WithRegistry(r *inflight.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithAttemptIDs sets the attempt ID generator. Default: UUIDv7Generator.
func WithAttemptIDs(g AttemptIDGenerator) Option {
	return func(e *Engine) { e.attempts = g }
}

// New creates an Engine over s.
func New(s *store.ResultStore, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		clock:     SystemClock{},
		retention: DefaultRetention,
		attempts:  UUIDv7Generator{},
		metrics:   &Metrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = inflight.New()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.deriver == nil {
		e.deriver = key.NewDeriver(key.WithNow(e.clock.Now))
	}
	return e
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Deriver returns the key deriver in use.
func (e *Engine) Deriver() *key.Deriver { return e.deriver }

// Clock returns the clock used for record timestamps.
func (e *Engine) Clock() Clock { return e.clock }

// Store returns the underlying result store.
func (e *Engine) Store() *store.ResultStore { return e.store }

// InFlight returns the keys executing in this process.
func (e *Engine) InFlight() []string { return e.registry.Keys() }

// errReleased settles a handle whose owner returned without running the
// operation. Waiters that see it decide again under their own policy.
var errReleased = errors.New("in-flight slot released without settling")

// Execute runs op at most once for the key derived from d.
//
// Errors: *Error for INVALID_DESCRIPTOR, ALREADY_IN_PROGRESS and
// PREVIOUS_FAILURE; *PanicError when op panics; ctx.Err() when ctx ends
// before op is invoked; otherwise whatever op returned. Once op has been
// invoked, cancelling ctx no longer affects it. A coalesced caller whose ctx
// ends stops waiting and gets ctx.Err().
func (e *Engine) Execute(ctx context.Context, d key.Descriptor, op Operation, p Policy) (Result, error) {
	if op == nil {
		return Result{}, newInvalidDescriptor(errors.New("operation is nil"))
	}
	k, err := e.deriver.Derive(d)
	if err != nil {
		return Result{}, newInvalidDescriptor(err)
	}
	res := Result{Key: k}
	ks := string(k)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, found, err := e.load(ctx, ks)
		if err != nil {
			return res, err
		}
		if found {
			if out, done, err := e.settled(rec, p); done {
				return out, err
			}
		}

		h, owner := e.registry.TryRegister(ks)
		if !owner {
			if p.SkipIfPending {
				e.metrics.RejectedInProgress.Add(1)
				e.logger.Debug("rejected: key in flight", "key", ks)
				return res, newAlreadyInProgress(ks)
			}
			e.logger.Debug("coalescing onto in-flight execution", "key", ks)
			res.Source = SourceCoalesced
			_, waitErr := h.Wait(ctx)
			value, ok, err := h.Peek()
			if !ok {
				return res, waitErr
			}
			if errors.Is(err, errReleased) {
				e.logger.Debug("in-flight owner released key; deciding again", "key", ks)
				res.Source = ""
				continue
			}
			e.metrics.Coalesced.Add(1)
			res.Value = value
			return res, err
		}

		// The key may have settled between the first read and registration.
		rec, found, err = e.load(ctx, ks)
		if err != nil {
			e.registry.Resolve(ks, nil, errReleased)
			return res, err
		}
		if found {
			if out, done, err := e.settled(rec, p); done {
				e.registry.Resolve(ks, nil, errReleased)
				return out, err
			}
			if rec.Status == store.StatusPending && p.SkipIfPending {
				e.metrics.RejectedInProgress.Add(1)
				e.logger.Info("rejected: pending record without local execution",
					"key", ks,
					"attempt", rec.Attempt,
				)
				e.registry.Resolve(ks, nil, errReleased)
				return res, newAlreadyInProgress(ks)
			}
		}

		return e.run(ctx, k, op, p)
	}
}

// settled resolves calls against a terminal record. done is false when the
// operation should run.
func (e *Engine) settled(rec store.Record, p Policy) (Result, bool, error) {
	res := Result{Key: key.Key(rec.Key), Source: SourceReplayed}
	switch rec.Status {
	case store.StatusSuccess:
		e.metrics.Replayed.Add(1)
		e.logger.Debug("replaying cached result", "key", rec.Key)
		res.Value = rec.Result
		return res, true, nil
	case store.StatusError:
		if p.RetryOnError {
			e.logger.Debug("retrying after previous failure", "key", rec.Key)
			return Result{}, false, nil
		}
		e.metrics.PreviousFailures.Add(1)
		msg := "previous attempt failed"
		if rec.Error != nil && rec.Error.Message != "" {
			msg = rec.Error.Message
		}
		return res, true, newPreviousFailure(rec.Key, msg)
	}
	return Result{}, false, nil
}

// run owns the registry slot for k until it returns.
func (e *Engine) run(ctx context.Context, k key.Key, op Operation, p Policy) (res Result, err error) {
	ks := string(k)
	res = Result{Key: k, Source: SourceExecuted}

	// Settlement writes must land even if the caller has gone away.
	bg := context.WithoutCancel(ctx)

	retention := p.Retention
	if retention <= 0 {
		retention = e.retention
	}
	now := e.clock.Now()
	rec := store.Record{
		Key:       ks,
		Status:    store.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(retention),
		Attempt:   e.attempts.Generate(),
	}
	e.save(bg, rec)

	e.logger.Info("executing operation",
		"key", ks,
		"attempt", rec.Attempt,
	)
	e.metrics.Executed.Add(1)
	value, err := invoke(bg, op)
	if err == nil && len(value) > 0 && !json.Valid(value) {
		err = fmt.Errorf("operation returned invalid JSON")
		value = nil
	}

	if err != nil {
		e.metrics.OperationErrors.Add(1)
		rec.Status = store.StatusError
		rec.Error = &store.ErrorInfo{Message: err.Error()}
		var pe *PanicError
		if errors.As(err, &pe) {
			rec.Error.Stack = string(pe.Stack)
		}
		e.logger.Info("operation failed",
			"key", ks,
			"attempt", rec.Attempt,
			"error", err,
		)
	} else {
		rec.Status = store.StatusSuccess
		rec.Result = value
		e.logger.Info("operation succeeded",
			"key", ks,
			"attempt", rec.Attempt,
		)
	}
	e.save(bg, rec)
	e.registry.Resolve(ks, value, err)

	res.Value = value
	return res, err
}

// invoke calls op, converting a panic into *PanicError.
func invoke(ctx context.Context, op Operation) (value json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return op(ctx)
}

// load reads a live record. A store failure is logged and treated as a miss;
// a context error is returned since the record's state is then unknown.
func (e *Engine) load(ctx context.Context, k string) (store.Record, bool, error) {
	rec, found, err := e.store.Get(ctx, k)
	if err == nil {
		return rec, found, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return store.Record{}, false, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.Record{}, false, err
	}
	e.metrics.StoreErrors.Add(1)
	e.logger.Warn("store read failed; treating as miss",
		"key", k,
		"op", "get",
		"error", err,
	)
	return store.Record{}, false, nil
}

// save writes rec. A store failure is logged and swallowed.
func (e *Engine) save(ctx context.Context, rec store.Record) {
	if err := e.store.Put(ctx, rec); err != nil {
		e.metrics.StoreErrors.Add(1)
		e.logger.Warn("store write failed; cache entry lost",
			"key", rec.Key,
			"op", "put",
			"status", string(rec.Status),
			"error", err,
		)
	}
}

// Forget removes the record for k, releasing a stuck pending key. It does
// not affect an execution in flight in this process.
func (e *Engine) Forget(ctx context.Context, k string) error {
	if err := e.store.Remove(ctx, k); err != nil {
		return fmt.Errorf("forget %s: %w", k, err)
	}
	e.logger.Info("record forgotten", "key", k)
	return nil
}

// Sweep deletes expired records and returns how many were removed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	n, err := e.store.SweepExpired(ctx)
	e.metrics.Swept.Add(int64(n))
	if err != nil {
		e.metrics.StoreErrors.Add(1)
		return n, fmt.Errorf("sweep: %w", err)
	}
	e.logger.Debug("sweep complete", "removed", n)
	return n, nil
}

// RunSweeper sweeps every interval until ctx is done. Sweep failures are
// logged and the loop continues.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	e.logger.Info("sweeper starting", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sweeper stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Do wraps Execute for typed results, encoding T as JSON.
func Do[T any](ctx context.Context, e *Engine, d key.Descriptor, p Policy, fn func(context.Context) (T, error)) (T, Source, error) {
	var zero T
	res, err := e.Execute(ctx, d, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}, p)
	if err != nil {
		return zero, res.Source, err
	}
	var out T
	if len(res.Value) == 0 {
		return out, res.Source, nil
	}
	if err := json.Unmarshal(res.Value, &out); err != nil {
		return zero, res.Source, fmt.Errorf("decode result for %s: %w", res.Key, err)
	}
	return out, res.Source, nil
}
