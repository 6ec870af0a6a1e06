// Package rate implements fixed-window counters used to throttle
// user-triggered provider calls such as verification email resends.
//
// # Window semantics
//
// The first hit in a window sets the expiry; later hits only increment.
// Redis uses INCR + EXPIRE. The in-process counter uses go-cache with the
// same semantics.
//
// # Key prefixes
//
//   - rv: verification resend per external identity
package rate
