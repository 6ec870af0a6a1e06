// Package poller runs a single periodic convergence check.
//
// A [Poller] owns at most one ticker at a time. Start while active is a
// no-op; Stop tears the ticker down and invalidates any check that is still
// in flight, so a late result can never reach OnConverged.
package poller
