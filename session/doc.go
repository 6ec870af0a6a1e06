// Package session provides the durable "current session" cache: the last
// reconciled local user for a browser profile, kept in Redis so a reload can
// show the signed-in user before the identity provider has answered.
//
// # Encoding
//
// Records are stored as versioned JSON. Unknown versions are treated as
// corrupt and deleted on read.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Record] model. It does NOT decide
// whether a cached record may be trusted; the synchronizer does, by matching
// the cached external UID against the provider's current identity.
//
// # What this package must NOT do
//
//   - Import the root package (no upward imports).
//   - Store credentials or passwords in [Record] fields.
package session
