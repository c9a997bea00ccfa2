package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/idem/internal/engine"
	"github.com/roach88/idem/internal/inflight"
	"github.com/roach88/idem/internal/key"
	"github.com/roach88/idem/internal/store"
	"github.com/roach88/idem/internal/store/memory"
	"github.com/roach88/idem/internal/testutil"
)

// callerTimeout bounds how long a concurrent step's operation waits for the
// other callers to arrive.
const callerTimeout = 5 * time.Second

// Harness is the test execution engine for one scenario.
// It runs scenarios with a fake clock against an isolated in-memory store.
type Harness struct {
	store    *store.ResultStore
	engine   *engine.Engine
	registry *inflight.Registry
	clock    *testutil.FakeClock
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation matched.
	Pass bool `json:"pass"`

	// Steps is the trace, one entry per scenario step.
	Steps []StepTrace `json:"steps"`

	// Errors contains expectation mismatches. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// StepTrace records what one step did.
type StepTrace struct {
	Name        string      `json:"name"`
	Key         string      `json:"key,omitempty"`
	Invocations int         `json:"invocations"`
	Status      string      `json:"status"`
	Calls       []CallTrace `json:"calls"`
}

// CallTrace records one Execute call. Concurrent calls are sorted by label.
type CallTrace struct {
	Label   string          `json:"label"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory backend for isolation.
// An error is returned only when the harness itself cannot run; expectation
// mismatches are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	clock := testutil.NewFakeClock(start)
	rs := store.New(memory.New(), clock.Now)
	defer rs.Close()

	deriverOpts := []key.Option{key.WithNow(clock.Now)}
	if scenario.Window > 0 {
		deriverOpts = append(deriverOpts, key.WithDefaultWindow(scenario.Window))
	}
	engineOpts := []engine.Option{
		engine.WithClock(clock),
		engine.WithDeriver(key.NewDeriver(deriverOpts...)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if scenario.Retention > 0 {
		engineOpts = append(engineOpts, engine.WithRetention(scenario.Retention))
	}
	registry := inflight.New()
	engineOpts = append(engineOpts, engine.WithRegistry(registry))

	h := &Harness{
		store:    rs,
		engine:   engine.New(rs, engineOpts...),
		registry: registry,
		clock:    clock,
	}

	ctx := context.Background()
	result := &Result{Pass: true, Steps: []StepTrace{}}
	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		trace, err := h.runStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
		result.Steps = append(result.Steps, trace)
		checkExpect(result, step, trace)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, step *Step) (StepTrace, error) {
	h.clock.Advance(step.Advance)
	trace := StepTrace{Name: step.Name, Status: StatusAbsent}

	d, descErr := step.Descriptor.Descriptor()
	if descErr == nil {
		if k, err := h.engine.Deriver().Derive(d); err == nil {
			trace.Key = string(k)
		}
	}

	n := step.Concurrent
	if n < 1 {
		n = 1
	}
	policy := engine.Policy{
		SkipIfPending: step.Policy.SkipIfPending,
		RetryOnError:  step.Policy.RetryOnError,
		Retention:     step.Policy.Retention,
	}

	outcome, err := step.Outcome.value()
	if err != nil {
		return StepTrace{}, err
	}

	var invocations, returned atomic.Int32
	var gateErr error
	op := func(context.Context) (json.RawMessage, error) {
		invocations.Add(1)
		if n > 1 {
			if err := h.awaitCallers(trace.Key, n-1, &returned); err != nil {
				gateErr = err
			}
		}
		if step.Outcome.Panic != "" {
			panic(step.Outcome.Panic)
		}
		if step.Outcome.Error != "" {
			return nil, errors.New(step.Outcome.Error)
		}
		return outcome, nil
	}

	calls := make([]CallTrace, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res engine.Result
			var err error
			if descErr != nil {
				err = &engine.Error{Code: engine.CodeInvalidDescriptor, Message: descErr.Error(), Err: descErr}
			} else {
				res, err = h.engine.Execute(ctx, d, op, policy)
			}
			returned.Add(1)
			calls[i] = callTrace(res, err)
		}(i)
	}
	wg.Wait()
	if gateErr != nil {
		return StepTrace{}, gateErr
	}

	sort.SliceStable(calls, func(i, j int) bool {
		if calls[i].Label != calls[j].Label {
			return calls[i].Label < calls[j].Label
		}
		return string(calls[i].Result) < string(calls[j].Result)
	})
	trace.Calls = calls
	trace.Invocations = int(invocations.Load())

	if trace.Key != "" {
		rec, found, err := h.store.Get(ctx, trace.Key)
		if err != nil {
			return StepTrace{}, fmt.Errorf("read record: %w", err)
		}
		if found {
			trace.Status = string(rec.Status)
		}
	}
	return trace, nil
}

// awaitCallers blocks until want other callers are either waiting on the
// in-flight handle for k or have already returned.
func (h *Harness) awaitCallers(k string, want int, returned *atomic.Int32) error {
	deadline := time.Now().Add(callerTimeout)
	for {
		waiting := 0
		if hd, ok := h.registry.Lookup(k); ok {
			waiting = hd.Waiters()
		}
		if int(returned.Load())+waiting >= want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("concurrent callers did not arrive within %s", callerTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func (o Outcome) value() (json.RawMessage, error) {
	if o.Result == nil {
		return nil, nil
	}
	data, err := json.Marshal(o.Result)
	if err != nil {
		return nil, fmt.Errorf("outcome result: %w", err)
	}
	return data, nil
}

func callTrace(res engine.Result, err error) CallTrace {
	if err == nil {
		return CallTrace{Label: string(res.Source), Result: res.Value}
	}
	var pe *engine.PanicError
	if errors.As(err, &pe) {
		return CallTrace{Label: LabelPanic, Message: pe.Error()}
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		ct := CallTrace{Label: string(ee.Code)}
		if ee.Code == engine.CodePreviousFailure {
			ct.Message = ee.Message
		}
		return ct
	}
	return CallTrace{Label: LabelOperationError, Message: err.Error()}
}

func checkExpect(result *Result, step *Step, trace StepTrace) {
	e := step.Expect
	if e == nil {
		return
	}
	if e.Source != "" || e.Error != "" {
		want := e.Source + e.Error
		if got := trace.Calls[0].Label; got != want {
			result.addError("step %q: expected %s, got %s", step.Name, want, got)
		}
	}
	if e.Result != nil {
		want, err := json.Marshal(e.Result)
		if err != nil {
			result.addError("step %q: expect.result: %v", step.Name, err)
		} else if !jsonEqual(want, trace.Calls[0].Result) {
			result.addError("step %q: expected result %s, got %s", step.Name, want, trace.Calls[0].Result)
		}
	}
	if len(e.Outcomes) > 0 {
		got := map[string]int{}
		for _, c := range trace.Calls {
			got[c.Label]++
		}
		for label, n := range e.Outcomes {
			if got[label] != n {
				result.addError("step %q: expected %d %s call(s), got %d", step.Name, n, label, got[label])
			}
		}
		for label, n := range got {
			if _, ok := e.Outcomes[label]; !ok {
				result.addError("step %q: unexpected %d %s call(s)", step.Name, n, label)
			}
		}
	}
	if e.Invocations != nil && *e.Invocations != trace.Invocations {
		result.addError("step %q: expected %d invocation(s), got %d", step.Name, *e.Invocations, trace.Invocations)
	}
	if e.Status != "" && e.Status != trace.Status {
		result.addError("step %q: expected status %s, got %s", step.Name, e.Status, trace.Status)
	}
}

func jsonEqual(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ca, errA := key.Canonicalize(va)
	cb, errB := key.Canonicalize(vb)
	return errA == nil && errB == nil && string(ca) == string(cb)
}
