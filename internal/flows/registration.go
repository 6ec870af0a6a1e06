package flows

import (
	"context"
	"errors"
	"strings"
)

// RegisterInput is the registration form payload. ExternalUID is set when
// linking an identity that is already signed in at the provider.
type RegisterInput struct {
	Email       string
	Password    string
	Username    string
	ExternalUID string
}

// RegisterFailureKind classifies registration failures for root-level mapping.
type RegisterFailureKind int

const (
	RegisterFailureNone RegisterFailureKind = iota
	RegisterFailureInvalid
	RegisterFailureCreateIdentity
	RegisterFailureCredential
	RegisterFailureBackend
)

// RegisterResult carries the created user or failure metadata.
type RegisterResult struct {
	Failure     RegisterFailureKind
	Err         error
	User        UserRecord
	ExternalUID string
	// Created reports that this run created the provider identity.
	Created bool
	// RolledBack reports that the created identity was deleted after a
	// backend failure.
	RolledBack bool
}

// BackendRegisterInput is the backend register payload.
type BackendRegisterInput struct {
	Username    string
	Email       string
	Password    string
	ExternalUID string
}

type RegisterMetrics struct {
	RegisterSuccess   int
	RegisterFailure   int
	RegisterRollback  int
	VerificationEmail int
}

type RegisterEvents struct {
	Register string
	Rollback string
}

type RegisterErrors struct {
	InvalidRequest error
}

// RegisterDeps captures registration flow dependencies.
type RegisterDeps struct {
	CreateIdentity        func(ctx context.Context, email, password string) (string, error)
	SendVerificationEmail func(ctx context.Context) error
	FreshCredential       func(ctx context.Context) (string, error)
	RegisterUser          func(ctx context.Context, credential string, in BackendRegisterInput) (UserRecord, error)
	DeleteIdentity        func(ctx context.Context) error

	Warn      func(string, ...any)
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  RegisterErrors
}

// RunRegister creates (or links) the provider identity and the backend user.
// When the backend rejects a freshly created identity, the identity is
// deleted before the backend error is returned.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) RegisterResult {
	normalizeRegisterDeps(&deps)

	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Email == "" || in.Username == "" || (in.ExternalUID == "" && in.Password == "") {
		return RegisterResult{Failure: RegisterFailureInvalid, Err: deps.Errors.InvalidRequest}
	}
	if deps.FreshCredential == nil || deps.RegisterUser == nil || (in.ExternalUID == "" && deps.CreateIdentity == nil) {
		return RegisterResult{Failure: RegisterFailureInvalid, Err: deps.Errors.InvalidRequest}
	}

	uid := in.ExternalUID
	created := false
	if uid == "" {
		newUID, err := deps.CreateIdentity(ctx, in.Email, in.Password)
		if err != nil {
			deps.MetricInc(deps.Metrics.RegisterFailure)
			deps.EmitAudit(ctx, deps.Events.Register, false, "", "", err, func() map[string]string {
				return map[string]string{"stage": "create_identity"}
			})
			return RegisterResult{Failure: RegisterFailureCreateIdentity, Err: err}
		}
		uid = newUID
		created = true

		if deps.SendVerificationEmail != nil {
			if err := deps.SendVerificationEmail(ctx); err != nil {
				deps.Warn("authsync: verification email send failed", "error", err)
			} else {
				deps.MetricInc(deps.Metrics.VerificationEmail)
			}
		}
	}

	rollback := func(cause error) bool {
		if !created || deps.DeleteIdentity == nil {
			return false
		}
		if err := deps.DeleteIdentity(context.WithoutCancel(ctx)); err != nil {
			deps.Warn("authsync: identity rollback failed", "external_uid", uid, "error", err)
			deps.EmitAudit(ctx, deps.Events.Rollback, false, "", uid, err, nil)
			return false
		}
		deps.MetricInc(deps.Metrics.RegisterRollback)
		deps.EmitAudit(ctx, deps.Events.Rollback, true, "", uid, cause, nil)
		return true
	}

	credential, err := deps.FreshCredential(ctx)
	if err != nil {
		rolledBack := rollback(err)
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.Register, false, "", uid, err, func() map[string]string {
			return map[string]string{"stage": "credential"}
		})
		return RegisterResult{Failure: RegisterFailureCredential, Err: err, ExternalUID: uid, Created: created, RolledBack: rolledBack}
	}

	user, err := deps.RegisterUser(ctx, credential, BackendRegisterInput{
		Username:    in.Username,
		Email:       in.Email,
		Password:    in.Password,
		ExternalUID: uid,
	})
	if err != nil {
		rolledBack := rollback(err)
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.Register, false, "", uid, err, func() map[string]string {
			return map[string]string{"stage": "backend"}
		})
		return RegisterResult{Failure: RegisterFailureBackend, Err: err, ExternalUID: uid, Created: created, RolledBack: rolledBack}
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.Register, true, user.ID, uid, nil, nil)
	return RegisterResult{User: user, ExternalUID: uid, Created: created}
}

func normalizeRegisterDeps(deps *RegisterDeps) {
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.InvalidRequest == nil {
		deps.Errors.InvalidRequest = errors.New("invalid registration request")
	}
}
