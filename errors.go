package authsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClientClosed is returned by operations on a closed Client.
	ErrClientClosed = errors.New("client closed")
	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoIdentity is returned when an operation needs a provider identity.
	ErrNoIdentity = errors.New("no provider identity")
	// ErrNotAuthenticated is returned when an operation needs a local session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrStaleResult is returned when the identity changed while the
	// operation was in flight and its result was discarded.
	ErrStaleResult = errors.New("identity changed during operation")
	// ErrForbidden is returned when the session lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrDevSessionDisabled is returned when dev sessions are not enabled.
	ErrDevSessionDisabled = errors.New("dev session disabled")
	// ErrDevSessionInProduction is returned by Validate.
	ErrDevSessionInProduction = errors.New("dev session must not be enabled in production")

	// ErrIdentityConflict matches provider code auth/email-already-in-use.
	ErrIdentityConflict = errors.New("identity already exists")
	// ErrInvalidCredentials matches provider code auth/invalid-credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTooManyAttempts matches provider code auth/too-many-requests.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrInteractiveUnavailable matches popup failure codes.
	ErrInteractiveUnavailable = errors.New("interactive sign-in unavailable")
	// ErrProviderUnavailable matches provider network failures.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrUserNotFound matches backend 404.
	ErrUserNotFound = errors.New("local user not found")
	// ErrBackendConflict matches backend 409.
	ErrBackendConflict = errors.New("backend conflict")
	// ErrBackendValidation matches backend 400 and 422.
	ErrBackendValidation = errors.New("backend validation failed")
	// ErrRegistrationRequired matches backend 422 from OAuth upsert.
	ErrRegistrationRequired = errors.New("registration required")
	// ErrBackendUnavailable matches backend 5xx and transport failures.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrProvisionFailed wraps auto-provisioning failures after the provider
	// session was signed out.
	ErrProvisionFailed = errors.New("could not reconcile local user")
	// ErrConflictUnrecoverable is returned when cleanup could not resolve an
	// identity conflict.
	ErrConflictUnrecoverable = errors.New("identity conflict could not be recovered")
)

// Provider error codes.
const (
	CodeEmailAlreadyInUse     = "auth/email-already-in-use"
	CodeInvalidCredential     = "auth/invalid-credential"
	CodeTooManyRequests       = "auth/too-many-requests"
	CodePopupBlocked          = "auth/popup-blocked"
	CodePopupClosedByUser     = "auth/popup-closed-by-user"
	CodeOperationNotSupported = "auth/operation-not-supported-in-this-environment"
	CodeNetworkRequestFailed  = "auth/network-request-failed"
	CodeUserNotFound          = "auth/user-not-found"
)

// ProviderError is an identity provider failure with a stable code.
type ProviderError struct {
	Code    string
	Message string
	// Email is the address involved, when the provider reports one.
	Email string
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is maps provider codes onto sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrIdentityConflict:
		return e.Code == CodeEmailAlreadyInUse
	case ErrInvalidCredentials:
		return e.Code == CodeInvalidCredential || e.Code == CodeUserNotFound
	case ErrTooManyAttempts:
		return e.Code == CodeTooManyRequests
	case ErrInteractiveUnavailable:
		return e.Code == CodePopupBlocked || e.Code == CodePopupClosedByUser || e.Code == CodeOperationNotSupported
	case ErrProviderUnavailable:
		return e.Code == CodeNetworkRequestFailed
	}
	return false
}

// NewProviderError returns a ProviderError for code.
func NewProviderError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// ProviderCode returns the provider code carried by err, or "".
func ProviderCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// BackendError is an HTTP-classified backend failure.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Op != "" {
		return fmt.Sprintf("backend %s: %d %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("backend: %d %s", e.Status, msg)
}

// Is maps HTTP statuses onto sentinels.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrUserNotFound:
		return e.Status == http.StatusNotFound
	case ErrBackendConflict:
		return e.Status == http.StatusConflict
	case ErrBackendValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	case ErrRegistrationRequired:
		return e.Status == http.StatusUnprocessableEntity
	case ErrBackendUnavailable:
		return e.Status == 0 || e.Status >= http.StatusInternalServerError
	}
	return false
}

// IsTransient reports whether err is a network-class failure that should not
// clear the session.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrBackendUnavailable)
}
