// Package store persists idem request records.
//
// A ResultStore wraps a Backend (the storage medium) and owns the rules
// every medium shares:
//   - A record past its ExpiresAt is absent; Get deletes it lazily
//   - Put is last-writer-wins
//   - Every medium failure surfaces as *UnavailableError so callers can
//     degrade to a cache miss instead of failing
//
// Backends live in subpackages: sqlite (default, durable), bolt (durable),
// memory (process-local) and redis (shared). storetest holds the conformance
// suite each backend runs.
//
// # Wire Format
//
// Records are persisted as JSON:
//
//	{"key":"idem_pay_…","status":"success","createdAt":1704067200000,
//	 "expiresAt":1704153600000,"result":{…},"attempt":"0190…"}
//
// Timestamps are epoch milliseconds. error is {"message":"…","stack":"…"}.
package store
