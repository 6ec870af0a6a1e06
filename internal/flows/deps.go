package flows

import "context"

// UserRecord mirrors the backend-owned local user.
type UserRecord struct {
	ID          string
	Username    string
	Email       string
	Role        string
	ExternalUID string
}

// IdentityRecord mirrors the provider-owned identity.
type IdentityRecord struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	Providers     []string
}

// AuditFunc emits one audit event. Metadata is built lazily.
type AuditFunc func(ctx context.Context, event string, success bool, userID, externalUID string, err error, meta func() map[string]string)

// Deps groups flow dependency sets. The root client builds this once and
// delegates to the matching flow implementation.
type Deps struct {
	Reconcile ReconcileDeps
	Register  RegisterDeps
	Conflict  ConflictDeps
}

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}
