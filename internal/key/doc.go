// Package key derives idempotency keys for idem.
//
// A key names one logical request: the same principal, resource, action and
// payload inside the same time bucket always map to the same key, and any
// field change maps to a different one.
//
// Key constraints:
//   - Payloads are normalised to canonical JSON before hashing, so map
//     ordering never changes a key
//   - Keys are SHA-256 digests with domain separation, truncated to 16 hex chars
//   - Derivation is pure given the instant it is evaluated at
//
// key imports nothing internal.
package key
