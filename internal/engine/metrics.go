package engine

import "sync/atomic"

// Metrics holds atomic counters for one Engine.
type Metrics struct {
	Executed           atomic.Int64
	Replayed           atomic.Int64
	Coalesced          atomic.Int64
	RejectedInProgress atomic.Int64
	PreviousFailures   atomic.Int64
	OperationErrors    atomic.Int64
	StoreErrors        atomic.Int64
	Swept              atomic.Int64
}

// Snapshot returns all metrics as a string-keyed map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"executed_total":             m.Executed.Load(),
		"replayed_total":             m.Replayed.Load(),
		"coalesced_total":            m.Coalesced.Load(),
		"rejected_in_progress_total": m.RejectedInProgress.Load(),
		"previous_failures_total":    m.PreviousFailures.Load(),
		"operation_errors_total":     m.OperationErrors.Load(),
		"store_errors_total":         m.StoreErrors.Load(),
		"swept_total":                m.Swept.Load(),
	}
}
