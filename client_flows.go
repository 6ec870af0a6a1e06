package authsync

import (
	"context"
	"errors"
	"net/http"

	internalflows "github.com/kshay712/cleenbeez-replit-sub000/internal/flows"
)

func newFlowService(c *Client) internalflows.Service {
	metricInc := func(id int) { c.metrics.Inc(MetricID(id)) }
	warn := func(msg string, kv ...any) { c.log.Sugar().Warnw(msg, kv...) }

	return internalflows.New(internalflows.Deps{
		Reconcile: internalflows.ReconcileDeps{
			AutoProvision: c.cfg.OAuth.AutoProvision,
			LookupUser: func(ctx context.Context, credential string) (internalflows.UserRecord, error) {
				u, err := c.backend.LookupUser(ctx, credential)
				if err != nil {
					return internalflows.UserRecord{}, err
				}
				if u == nil {
					return internalflows.UserRecord{}, &BackendError{Op: "lookup", Status: http.StatusNotFound}
				}
				return toUserRecord(u), nil
			},
			UpsertUser: func(ctx context.Context, in internalflows.UpsertInput) (internalflows.UserRecord, error) {
				u, err := c.backend.UpsertOAuthUser(ctx, UpsertRequest{
					Email:       in.Email,
					ExternalUID: in.ExternalUID,
					Username:    in.Username,
				})
				if err != nil {
					return internalflows.UserRecord{}, err
				}
				if u == nil {
					return internalflows.UserRecord{}, &BackendError{Op: "upsert", Status: http.StatusBadGateway, Message: "empty user"}
				}
				return toUserRecord(u), nil
			},
			IsNotFound:             func(err error) bool { return errors.Is(err, ErrUserNotFound) },
			IsRegistrationRequired: func(err error) bool { return errors.Is(err, ErrRegistrationRequired) },
			DeferProvision:         c.deferProvision,
			MetricInc:              metricInc,
			EmitAudit:              c.emitAudit,
			Metrics: internalflows.ReconcileMetrics{
				ReconcileAdopted:           int(MetricReconcileAdopted),
				ReconcileProvisioned:       int(MetricReconcileProvisioned),
				ReconcileNeedsRegistration: int(MetricReconcileNeedsRegistration),
				ReconcileFailure:           int(MetricReconcileFailure),
			},
			Events: internalflows.ReconcileEvents{
				Reconcile: AuditReconcile,
				Provision: AuditProvision,
			},
			Errors: internalflows.ReconcileErrors{
				InvalidIdentity: ErrNoIdentity,
			},
		},
		Register: internalflows.RegisterDeps{
			CreateIdentity: func(ctx context.Context, email, password string) (string, error) {
				ident, err := c.provider.CreateIdentity(ctx, email, password)
				if err != nil {
					return "", err
				}
				if ident == nil {
					return "", ErrNoIdentity
				}
				return ident.UID, nil
			},
			SendVerificationEmail: c.provider.SendVerificationEmail,
			FreshCredential: func(ctx context.Context) (string, error) {
				return c.provider.RefreshCredential(ctx, true)
			},
			RegisterUser: func(ctx context.Context, credential string, in internalflows.BackendRegisterInput) (internalflows.UserRecord, error) {
				u, err := c.backend.RegisterUser(ctx, credential, BackendRegisterRequest{
					Username:    in.Username,
					Email:       in.Email,
					Password:    in.Password,
					ExternalUID: in.ExternalUID,
				})
				if err != nil {
					return internalflows.UserRecord{}, err
				}
				if u == nil {
					return internalflows.UserRecord{}, &BackendError{Op: "register", Status: http.StatusBadGateway, Message: "empty user"}
				}
				return toUserRecord(u), nil
			},
			DeleteIdentity: c.provider.DeleteIdentity,
			Warn:           warn,
			MetricInc:      metricInc,
			EmitAudit:      c.emitAudit,
			Metrics: internalflows.RegisterMetrics{
				RegisterSuccess:   int(MetricRegisterSuccess),
				RegisterFailure:   int(MetricRegisterFailure),
				RegisterRollback:  int(MetricRegisterRollback),
				VerificationEmail: int(MetricVerificationEmailSent),
			},
			Events: internalflows.RegisterEvents{
				Register: AuditRegister,
				Rollback: AuditRegisterRollback,
			},
			Errors: internalflows.RegisterErrors{
				InvalidRequest: ErrInvalidRequest,
			},
		},
		Conflict: internalflows.ConflictDeps{
			IsConflict: func(err error) bool { return errors.Is(err, ErrIdentityConflict) },
			Cleanup: func(ctx context.Context, email string, privileged bool) (internalflows.CleanupRecord, error) {
				res, err := c.backend.CleanupExternalIdentity(ctx, email, privileged)
				if err != nil {
					return internalflows.CleanupRecord{}, err
				}
				return internalflows.CleanupRecord{
					Success:            res.Success,
					ExternalUID:        res.ExternalUID,
					LocalRecordDeleted: res.LocalRecordDeleted,
				}, nil
			},
			MetricInc: metricInc,
			EmitAudit: c.emitAudit,
			Metrics: internalflows.ConflictMetrics{
				ConflictRecovered:     int(MetricConflictRecovered),
				ConflictUnrecoverable: int(MetricConflictUnrecoverable),
			},
			Events: internalflows.ConflictEvents{
				Recovery: AuditConflictRecovery,
			},
		},
	})
}

func toUserRecord(u *LocalUser) internalflows.UserRecord {
	return internalflows.UserRecord{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        string(u.Role),
		ExternalUID: u.ExternalUID,
	}
}

func fromUserRecord(r internalflows.UserRecord) *LocalUser {
	return &LocalUser{
		ID:          r.ID,
		Username:    r.Username,
		Email:       r.Email,
		Role:        Role(r.Role),
		ExternalUID: r.ExternalUID,
	}
}

func toIdentityRecord(i *ExternalIdentity) internalflows.IdentityRecord {
	providers := make([]string, 0, len(i.Providers))
	for _, p := range i.Providers {
		providers = append(providers, string(p))
	}
	return internalflows.IdentityRecord{
		UID:           i.UID,
		Email:         i.Email,
		DisplayName:   i.DisplayName,
		EmailVerified: i.EmailVerified,
		Providers:     providers,
	}
}
