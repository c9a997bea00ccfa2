// Package harness runs YAML scenarios against a real Engine with a fake
// clock and scripted operations, and compares the resulting trace against
// golden files.
//
// # Scenario Format
//
//	name: pay_twice_skip_if_pending
//	description: "Two rapid payments charge once"
//	start: 2024-01-01T00:00:00Z   # optional, fake clock start
//	window: 30m                   # optional, key bucket width
//	retention: 24h                # optional, engine default retention
//	steps:
//	  - name: first
//	    descriptor: {principal: u1, resource: s9, action: pay, payload: {amount: 1000}}
//	    policy: {skip_if_pending: true}
//	    outcome: {result: {charged: 1000}}
//	    concurrent: 2
//	    expect:
//	      invocations: 1
//	      status: success
//	      outcomes: {executed: 1, ALREADY_IN_PROGRESS: 1}
//
// # Steps
//
// Each step optionally advances the clock, then issues one call, or
// `concurrent` simultaneous identical calls. The scripted operation for a
// concurrent step holds until every other caller is either waiting on it or
// has returned, so coalescing and rejection are deterministic.
//
// outcome is one of result (any YAML value, returned as JSON), error (the
// operation fails with that message) or panic.
//
// # Call Labels
//
// Every call is labelled by its source when it succeeds (executed, replayed,
// coalesced) or by an error code when it fails: INVALID_DESCRIPTOR,
// ALREADY_IN_PROGRESS, PREVIOUS_FAILURE, OPERATION_ERROR or PANIC.
//
// # Expectations
//
//   - source / error: label of a single-call step
//   - result: JSON value the single call returned
//   - outcomes: multiset of labels across all calls of the step
//   - invocations: how many times the operation ran during the step
//   - status: stored record status after the step (pending, success, error, absent)
package harness
