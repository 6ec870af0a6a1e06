// Package middleware exposes net/http route guards over an authsync session.
//
// # Guards
//
//   - [RequireAuthenticated] redirects anonymous requests to the login route.
//   - [RequireVerified] additionally redirects unverified sessions to the
//     verify-email route.
//   - [RequireRole] answers 403 when the session lacks a role.
//
// Redirecting guards record the requested path as the tab's redirect intent
// first, so the user lands back on it after signing in or verifying.
// Requests that arrive while reconciliation is still running get 503 with
// Retry-After.
//
// This package makes no authentication decisions of its own; it only reads
// the session Snapshot.
package middleware
