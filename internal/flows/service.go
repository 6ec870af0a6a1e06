package flows

import "context"

// Service is the centralized flow runner built once by the root client.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Reconcile.LookupUser != nil
}

func (s Service) Reconcile(ctx context.Context, ident IdentityRecord, credential string) ReconcileResult {
	return RunReconcile(ctx, ident, credential, s.deps.Reconcile)
}

func (s Service) Register(ctx context.Context, in RegisterInput) RegisterResult {
	return RunRegister(ctx, in, s.deps.Register)
}

func (s Service) RecoverConflict(ctx context.Context, email string, cause error, allowRetry bool) RecoveryResult {
	return RunConflictRecovery(ctx, email, cause, allowRetry, s.deps.Conflict)
}
