// Package engine runs caller-supplied operations at most once per
// idempotency key.
//
// Execute derives a key from the operation descriptor and consults the
// ResultStore and the in-process Registry before invoking anything:
//
//  1. A success record is replayed; the operation is not invoked.
//  2. An error record fails with PreviousFailure unless the policy allows retry.
//  3. If the key is already executing in this process, the caller either waits
//     for that execution (coalescing) or fails with AlreadyInProgress.
//  4. Otherwise a pending record is written, the operation runs, and its
//     settlement is persisted and fanned out to any waiters.
//
// A key moves idle -> pending -> {success | error}. success is terminal.
// error is terminal unless a later call sets RetryOnError, which starts a new
// pending phase under the same key.
//
// Store failures never reach the caller. A failed read is a cache miss and a
// failed write loses the cache entry; both are logged and counted. A read cut
// short by the caller's context is not a miss: Execute returns ctx.Err()
// without invoking the operation.
//
// A waiter whose owner gave up the key without running the operation (the
// owner found a settled or pending record that its own policy rejects)
// decides again under its own policy.
//
// A pending record left behind by a crashed process has no in-process handle
// and looks exactly like work running elsewhere. It blocks SkipIfPending
// callers until its retention expires.
package engine
