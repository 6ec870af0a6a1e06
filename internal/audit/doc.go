// Package audit relays identity-reconciliation events to a sink off the hot path.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, zap, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: one record per reconcile, registration, recovery, verification,
//     OAuth or sign-out outcome.
//
// The package does not decide which events are emitted; the client does.
package audit
