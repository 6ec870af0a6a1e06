package flows

import (
	"context"
	"errors"
)

// RecoveryKind discriminates conflict recovery results.
type RecoveryKind int

const (
	RecoveryNotApplicable RecoveryKind = iota
	RecoveryRecovered
	RecoveryUnrecoverable
)

// RecoveryResult is the outcome of one cleanup attempt.
type RecoveryResult struct {
	Kind               RecoveryKind
	Retry              bool
	Reason             string
	Message            string
	ExternalUID        string
	LocalRecordDeleted bool
}

// CleanupRecord is the backend cleanup response.
type CleanupRecord struct {
	Success            bool
	ExternalUID        string
	LocalRecordDeleted bool
}

type ConflictMetrics struct {
	ConflictRecovered     int
	ConflictUnrecoverable int
}

type ConflictEvents struct {
	Recovery string
}

// ConflictDeps captures conflict recovery dependencies.
type ConflictDeps struct {
	IsConflict func(error) bool
	Cleanup    func(ctx context.Context, email string, privileged bool) (CleanupRecord, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ConflictMetrics
	Events  ConflictEvents
}

const (
	MessageRetry      = "We cleaned up a previous incomplete sign-up for this email. Please try again."
	MessageRestart    = "We cleaned up a previous incomplete sign-up for this email. Please start sign-in again."
	MessageContactUs  = "An account with this email already exists. Please sign in or contact support."
	ReasonNotConflict = "not_identity_conflict"
	ReasonNoEmail     = "missing_email"
	ReasonCleanup     = "cleanup_failed"
	ReasonRejected    = "cleanup_rejected"
)

// RunConflictRecovery runs one cleanup for an identity-conflict error. It
// never retries; the result tells the caller whether a retry is safe.
// allowRetry is false when the caller cannot resume, such as a redirect
// completion after a page load.
func RunConflictRecovery(ctx context.Context, email string, cause error, allowRetry bool, deps ConflictDeps) RecoveryResult {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}

	if cause == nil || deps.IsConflict == nil || !deps.IsConflict(cause) {
		return RecoveryResult{Kind: RecoveryNotApplicable, Reason: ReasonNotConflict}
	}
	if email == "" || deps.Cleanup == nil {
		return unrecoverable(ctx, deps, ReasonNoEmail, nil)
	}

	rec, err := deps.Cleanup(ctx, email, false)
	if err != nil {
		return unrecoverable(ctx, deps, ReasonCleanup, err)
	}
	if !rec.Success {
		return unrecoverable(ctx, deps, ReasonRejected, nil)
	}

	out := RecoveryResult{
		Kind:               RecoveryRecovered,
		Retry:              allowRetry,
		Message:            MessageRetry,
		ExternalUID:        rec.ExternalUID,
		LocalRecordDeleted: rec.LocalRecordDeleted,
	}
	if !allowRetry {
		out.Message = MessageRestart
	}
	deps.MetricInc(deps.Metrics.ConflictRecovered)
	deps.EmitAudit(ctx, deps.Events.Recovery, true, "", rec.ExternalUID, cause, func() map[string]string {
		meta := map[string]string{"retry": "false"}
		if out.Retry {
			meta["retry"] = "true"
		}
		return meta
	})
	return out
}

func unrecoverable(ctx context.Context, deps ConflictDeps, reason string, err error) RecoveryResult {
	deps.MetricInc(deps.Metrics.ConflictUnrecoverable)
	if err == nil {
		err = errors.New(reason)
	}
	deps.EmitAudit(ctx, deps.Events.Recovery, false, "", "", err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return RecoveryResult{Kind: RecoveryUnrecoverable, Reason: reason, Message: MessageContactUs}
}
