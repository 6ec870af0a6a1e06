package internaldefs

import (
	authsync "github.com/kshay712/cleenbeez-replit-sub000"
)

// CounterDef names one client counter.
type CounterDef struct {
	ID   authsync.MetricID
	Name string
	Help string
}

// HistogramDef names one client histogram.
type HistogramDef struct {
	ID   authsync.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authsync_audit_dropped_total"

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: authsync.MetricReconcileAdopted, Name: "authsync_reconcile_adopted_total", Help: "Reconciliations that found an existing local user."},
	{ID: authsync.MetricReconcileProvisioned, Name: "authsync_reconcile_provisioned_total", Help: "Reconciliations that auto-provisioned a local user."},
	{ID: authsync.MetricReconcileNeedsRegistration, Name: "authsync_reconcile_needs_registration_total", Help: "Reconciliations that stored a pending registration."},
	{ID: authsync.MetricReconcileFailure, Name: "authsync_reconcile_failure_total", Help: "Reconciliations that failed and signed out."},
	{ID: authsync.MetricReconcileDeduplicated, Name: "authsync_reconcile_deduplicated_total", Help: "Reconcile calls that joined one already in flight."},
	{ID: authsync.MetricReconcileStale, Name: "authsync_reconcile_stale_total", Help: "Reconcile results discarded after an identity change."},
	{ID: authsync.MetricCredentialRefreshTransient, Name: "authsync_credential_refresh_transient_total", Help: "Credential refreshes that failed with a network error."},
	{ID: authsync.MetricForcedSignOut, Name: "authsync_forced_sign_out_total", Help: "Provider sessions signed out for lack of a local user."},
	{ID: authsync.MetricRegisterSuccess, Name: "authsync_register_success_total", Help: "Successful registrations."},
	{ID: authsync.MetricRegisterFailure, Name: "authsync_register_failure_total", Help: "Failed registrations."},
	{ID: authsync.MetricRegisterRollback, Name: "authsync_register_rollback_total", Help: "Provider identities deleted after a backend failure."},
	{ID: authsync.MetricVerificationEmailSent, Name: "authsync_verification_email_sent_total", Help: "Verification emails requested."},
	{ID: authsync.MetricVerificationResendLimited, Name: "authsync_verification_resend_limited_total", Help: "Verification resends rejected by the resend limiter."},
	{ID: authsync.MetricConflictRecovered, Name: "authsync_conflict_recovered_total", Help: "Identity conflicts resolved by cleanup."},
	{ID: authsync.MetricConflictUnrecoverable, Name: "authsync_conflict_unrecoverable_total", Help: "Identity conflicts cleanup could not resolve."},
	{ID: authsync.MetricConflictRetry, Name: "authsync_conflict_retry_total", Help: "Registration retries after conflict recovery."},
	{ID: authsync.MetricVerificationPollStarted, Name: "authsync_verification_poll_started_total", Help: "Verification poller starts."},
	{ID: authsync.MetricVerificationPollTick, Name: "authsync_verification_poll_tick_total", Help: "Verification poll checks."},
	{ID: authsync.MetricVerificationPollError, Name: "authsync_verification_poll_error_total", Help: "Verification poll checks that failed."},
	{ID: authsync.MetricVerificationConverged, Name: "authsync_verification_converged_total", Help: "Sessions that became verified."},
	{ID: authsync.MetricRedirectIntentConsumed, Name: "authsync_redirect_intent_consumed_total", Help: "Redirect intents navigated to."},
	{ID: authsync.MetricOAuthInteractiveSuccess, Name: "authsync_oauth_interactive_success_total", Help: "Interactive OAuth sign-ins that adopted a user."},
	{ID: authsync.MetricOAuthRedirectFallback, Name: "authsync_oauth_redirect_fallback_total", Help: "Interactive OAuth failures that fell back to redirect."},
	{ID: authsync.MetricOAuthRedirectResolved, Name: "authsync_oauth_redirect_resolved_total", Help: "Redirect sign-ins completed."},
	{ID: authsync.MetricLoginSuccess, Name: "authsync_login_success_total", Help: "Successful password logins."},
	{ID: authsync.MetricLoginFailure, Name: "authsync_login_failure_total", Help: "Failed password logins."},
	{ID: authsync.MetricLogout, Name: "authsync_logout_total", Help: "Logouts."},
	{ID: authsync.MetricSessionCacheHit, Name: "authsync_session_cache_hit_total", Help: "Durable session cache hits."},
	{ID: authsync.MetricSessionCacheMiss, Name: "authsync_session_cache_miss_total", Help: "Durable session cache misses."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authsync.MetricReconcileLatency, Name: "authsync_reconcile_latency_seconds", Help: "Reconciliation latency."},
}

// HistogramUpperBounds are the bucket bounds in seconds. The last bucket is
// +Inf and has no entry.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
