package authsync

import (
	"context"
	"slices"
)

// Role is the backend-assigned application role.
type Role string

const (
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// ProviderKind identifies a sign-in method at the identity provider.
type ProviderKind string

const (
	ProviderPassword ProviderKind = "password"
	ProviderGoogle   ProviderKind = "google.com"
	ProviderGitHub   ProviderKind = "github.com"
)

// LocalUser is the backend-owned user record.
type LocalUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	ExternalUID string `json:"external_uid"`
}

// ExternalIdentity is a snapshot of the provider-owned identity for the
// current browser session.
type ExternalIdentity struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	Providers     []ProviderKind
}

// HasProvider reports whether kind is linked to the identity.
func (i *ExternalIdentity) HasProvider(kind ProviderKind) bool {
	return i != nil && slices.Contains(i.Providers, kind)
}

func (i *ExternalIdentity) clone() *ExternalIdentity {
	if i == nil {
		return nil
	}
	out := *i
	out.Providers = slices.Clone(i.Providers)
	return &out
}

// SessionState is the explicit session lifecycle.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateAuthenticating
	StateAuthenticatedUnverified
	StateAuthenticatedVerified
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticatedUnverified:
		return "authenticated-unverified"
	case StateAuthenticatedVerified:
		return "authenticated-verified"
	default:
		return "anonymous"
	}
}

// Snapshot is an immutable copy of the session state handed to readers.
type Snapshot struct {
	State      SessionState
	User       *LocalUser
	Identity   *ExternalIdentity
	Generation uint64
}

// IsAuthenticated reports whether a local user is adopted.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil && (s.State == StateAuthenticatedUnverified || s.State == StateAuthenticatedVerified)
}

// IsAdmin reports whether the adopted user is an admin.
func (s Snapshot) IsAdmin() bool {
	return s.IsAuthenticated() && s.User.Role == RoleAdmin
}

// IsEditor reports whether the adopted user may edit content. Admins are
// editors.
func (s Snapshot) IsEditor() bool {
	return s.IsAuthenticated() && (s.User.Role == RoleEditor || s.User.Role == RoleAdmin)
}

// EmailVerified reports whether the session counts as verified.
func (s Snapshot) EmailVerified() bool {
	return s.State == StateAuthenticatedVerified
}

// IsLoading reports whether reconciliation is in progress.
func (s Snapshot) IsLoading() bool {
	return s.State == StateAuthenticating
}

// PendingRegistration is stored when a provider sign-in succeeds but no
// local user exists yet. The registration screen pre-fills Email read-only.
type PendingRegistration struct {
	Email       string
	ExternalUID string
	DisplayName string
	Provider    ProviderKind
}

// RegisterRequest is the registration form. Set ExternalUID to link an
// identity that is already signed in at the provider; Password is then
// optional.
type RegisterRequest struct {
	Email       string
	Password    string
	Username    string
	ExternalUID string
}

// BackendRegisterRequest is the payload sent to Backend.RegisterUser.
type BackendRegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password,omitempty"`
	ExternalUID string `json:"external_uid"`
}

// UpsertRequest is the payload sent to Backend.UpsertOAuthUser.
type UpsertRequest struct {
	Email       string `json:"email"`
	ExternalUID string `json:"external_uid"`
	Username    string `json:"username"`
}

// CleanupResult is the backend's answer to an identity cleanup.
type CleanupResult struct {
	Success            bool   `json:"success"`
	ExternalUID        string `json:"external_uid,omitempty"`
	LocalRecordDeleted bool   `json:"local_record_deleted,omitempty"`
}

// IdentityProvider is the external identity service. Implementations hold
// the provider session for one browser profile.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string) (*ExternalIdentity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*ExternalIdentity, error)
	SignInInteractive(ctx context.Context, kind ProviderKind) (*ExternalIdentity, error)
	// SignInRedirect starts a full-page redirect. The result is observed
	// through RedirectResult on the next page load.
	SignInRedirect(ctx context.Context, kind ProviderKind) error
	// RedirectResult returns (nil, nil) when no redirect result is pending.
	RedirectResult(ctx context.Context) (*ExternalIdentity, error)
	RefreshCredential(ctx context.Context, force bool) (string, error)
	ReloadIdentity(ctx context.Context) (*ExternalIdentity, error)
	SendVerificationEmail(ctx context.Context) error
	DeleteIdentity(ctx context.Context) error
	SignOut(ctx context.Context) error
	// Subscribe registers fn for auth state changes. fn receives nil on
	// sign-out.
	Subscribe(fn func(*ExternalIdentity)) (unsubscribe func())
	CurrentIdentity() *ExternalIdentity
}

// Backend is the application backend.
type Backend interface {
	LookupUser(ctx context.Context, credential string) (*LocalUser, error)
	RegisterUser(ctx context.Context, credential string, req BackendRegisterRequest) (*LocalUser, error)
	UpsertOAuthUser(ctx context.Context, req UpsertRequest) (*LocalUser, error)
	CleanupExternalIdentity(ctx context.Context, email string, privileged bool) (CleanupResult, error)
	NotifyEmailVerified(ctx context.Context, credential string) error
	SignOutServerSession(ctx context.Context) error
}

// Navigator moves the user to an application path.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string) error

func (f NavigatorFunc) Navigate(ctx context.Context, path string) error { return f(ctx, path) }
