package flows

import (
	"context"
	"errors"
	"strings"
)

// ReconcileOutcome classifies a successful reconciliation.
type ReconcileOutcome int

const (
	ReconcileNone ReconcileOutcome = iota
	ReconcileAdopted
	ReconcileProvisioned
	ReconcileNeedsRegistration
)

// ReconcileFailureKind classifies reconcile failures for root-level mapping.
type ReconcileFailureKind int

const (
	ReconcileFailureNone ReconcileFailureKind = iota
	ReconcileFailureInvalid
	ReconcileFailureLookup
	ReconcileFailureProvision
)

// ReconcileResult carries either the local user or failure metadata.
type ReconcileResult struct {
	Outcome ReconcileOutcome
	Failure ReconcileFailureKind
	Err     error
	User    UserRecord
}

// UpsertInput is the auto-provisioning payload.
type UpsertInput struct {
	Email       string
	ExternalUID string
	Username    string
}

type ReconcileMetrics struct {
	ReconcileAdopted           int
	ReconcileProvisioned       int
	ReconcileNeedsRegistration int
	ReconcileFailure           int
}

type ReconcileEvents struct {
	Reconcile string
	Provision string
}

type ReconcileErrors struct {
	InvalidIdentity error
}

// ReconcileDeps captures reconcile flow dependencies.
type ReconcileDeps struct {
	AutoProvision bool

	LookupUser func(ctx context.Context, credential string) (UserRecord, error)
	UpsertUser func(ctx context.Context, in UpsertInput) (UserRecord, error)

	// IsNotFound reports the normal "no local user yet" branch.
	IsNotFound func(error) bool
	// IsRegistrationRequired reports an upsert refusal that needs the
	// registration screen rather than a sign-out.
	IsRegistrationRequired func(error) bool
	// DeferProvision reports that another flow owns creation of this
	// identity's local user.
	DeferProvision func(ctx context.Context, ident IdentityRecord) bool

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ReconcileMetrics
	Events  ReconcileEvents
	Errors  ReconcileErrors
}

// RunReconcile looks up the local user for ident and provisions one when
// missing and allowed.
func RunReconcile(ctx context.Context, ident IdentityRecord, credential string, deps ReconcileDeps) ReconcileResult {
	normalizeReconcileDeps(&deps)

	if ident.UID == "" || credential == "" || deps.LookupUser == nil {
		return ReconcileResult{Failure: ReconcileFailureInvalid, Err: deps.Errors.InvalidIdentity}
	}

	user, err := deps.LookupUser(ctx, credential)
	if err == nil {
		deps.MetricInc(deps.Metrics.ReconcileAdopted)
		deps.EmitAudit(ctx, deps.Events.Reconcile, true, user.ID, ident.UID, nil, nil)
		return ReconcileResult{Outcome: ReconcileAdopted, User: user}
	}
	if !deps.IsNotFound(err) {
		deps.MetricInc(deps.Metrics.ReconcileFailure)
		deps.EmitAudit(ctx, deps.Events.Reconcile, false, "", ident.UID, err, nil)
		return ReconcileResult{Failure: ReconcileFailureLookup, Err: err}
	}

	if !deps.AutoProvision || deps.DeferProvision(ctx, ident) || deps.UpsertUser == nil {
		deps.MetricInc(deps.Metrics.ReconcileNeedsRegistration)
		deps.EmitAudit(ctx, deps.Events.Reconcile, true, "", ident.UID, nil, func() map[string]string {
			return map[string]string{"outcome": "needs_registration"}
		})
		return ReconcileResult{Outcome: ReconcileNeedsRegistration}
	}

	user, err = deps.UpsertUser(ctx, UpsertInput{
		Email:       ident.Email,
		ExternalUID: ident.UID,
		Username:    SuggestUsername(ident),
	})
	if err != nil {
		if deps.IsRegistrationRequired(err) {
			deps.MetricInc(deps.Metrics.ReconcileNeedsRegistration)
			deps.EmitAudit(ctx, deps.Events.Provision, false, "", ident.UID, err, func() map[string]string {
				return map[string]string{"outcome": "needs_registration"}
			})
			return ReconcileResult{Outcome: ReconcileNeedsRegistration}
		}
		deps.MetricInc(deps.Metrics.ReconcileFailure)
		deps.EmitAudit(ctx, deps.Events.Provision, false, "", ident.UID, err, nil)
		return ReconcileResult{Failure: ReconcileFailureProvision, Err: err}
	}

	deps.MetricInc(deps.Metrics.ReconcileProvisioned)
	deps.EmitAudit(ctx, deps.Events.Provision, true, user.ID, ident.UID, nil, nil)
	return ReconcileResult{Outcome: ReconcileProvisioned, User: user}
}

// SuggestUsername derives a username from the display name, falling back to
// the email local part.
func SuggestUsername(ident IdentityRecord) string {
	if name := strings.TrimSpace(ident.DisplayName); name != "" {
		return name
	}
	if at := strings.IndexByte(ident.Email, '@'); at > 0 {
		return ident.Email[:at]
	}
	return ident.Email
}

func normalizeReconcileDeps(deps *ReconcileDeps) {
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsRegistrationRequired == nil {
		deps.IsRegistrationRequired = func(error) bool { return false }
	}
	if deps.DeferProvision == nil {
		deps.DeferProvision = func(context.Context, IdentityRecord) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.InvalidIdentity == nil {
		deps.Errors.InvalidIdentity = errors.New("invalid identity")
	}
}
