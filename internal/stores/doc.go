// Package stores persists tab-scoped, short-lived records for the identity
// client: pending OAuth registrations, redirect intents and the redirect-pending
// marker written before a full-page sign-in redirect.
//
// # Design
//
// Records live in an [Ephemeral] backend (in-process go-cache or Redis) under
// "<prefix>:<tab>:<kind>" keys with a TTL. Consume operations are atomic
// get-and-delete so a record is observed by exactly one reader.
//
// # Architecture boundaries
//
// This package owns encoding and key layout only. It does not decide when a
// record is written or consumed; the client does.
package stores
