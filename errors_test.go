package authsync

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestProviderErrorMapsCodes(t *testing.T) {
	tests := []struct {
		code   string
		target error
	}{
		{CodeEmailAlreadyInUse, ErrIdentityConflict},
		{CodeInvalidCredential, ErrInvalidCredentials},
		{CodeUserNotFound, ErrInvalidCredentials},
		{CodeTooManyRequests, ErrTooManyAttempts},
		{CodePopupBlocked, ErrInteractiveUnavailable},
		{CodePopupClosedByUser, ErrInteractiveUnavailable},
		{CodeOperationNotSupported, ErrInteractiveUnavailable},
		{CodeNetworkRequestFailed, ErrProviderUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", NewProviderError(tc.code, "boom"))
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v to match %v", err, tc.target)
			}
			if got := ProviderCode(err); got != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, got)
			}
		})
	}

	if errors.Is(NewProviderError("auth/unknown", ""), ErrIdentityConflict) {
		t.Fatal("unknown code must not match")
	}
	if ProviderCode(errors.New("plain")) != "" {
		t.Fatal("expected empty code for non-provider error")
	}
}

func TestBackendErrorMapsStatuses(t *testing.T) {
	tests := []struct {
		status int
		match  []error
		miss   []error
	}{
		{http.StatusNotFound, []error{ErrUserNotFound}, []error{ErrBackendUnavailable}},
		{http.StatusConflict, []error{ErrBackendConflict}, []error{ErrIdentityConflict}},
		{http.StatusBadRequest, []error{ErrBackendValidation}, []error{ErrRegistrationRequired}},
		{http.StatusUnprocessableEntity, []error{ErrBackendValidation, ErrRegistrationRequired}, nil},
		{http.StatusInternalServerError, []error{ErrBackendUnavailable}, []error{ErrUserNotFound}},
		{0, []error{ErrBackendUnavailable}, nil},
	}

	for _, tc := range tests {
		err := &BackendError{Op: "lookup", Status: tc.status}
		for _, target := range tc.match {
			if !errors.Is(err, target) {
				t.Fatalf("status %d: expected match with %v", tc.status, target)
			}
		}
		for _, target := range tc.miss {
			if errors.Is(err, target) {
				t.Fatalf("status %d: unexpected match with %v", tc.status, target)
			}
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewProviderError(CodeNetworkRequestFailed, "")) {
		t.Fatal("provider network failure should be transient")
	}
	if !IsTransient(&BackendError{Status: http.StatusBadGateway}) {
		t.Fatal("backend 502 should be transient")
	}
	if IsTransient(&BackendError{Status: http.StatusNotFound}) {
		t.Fatal("backend 404 should not be transient")
	}
	if IsTransient(NewProviderError(CodeInvalidCredential, "")) {
		t.Fatal("invalid credential should not be transient")
	}
}

func TestBackendErrorMessage(t *testing.T) {
	err := &BackendError{Op: "register", Status: http.StatusInternalServerError}
	if got := err.Error(); got != "backend register: 500 Internal Server Error" {
		t.Fatalf("unexpected message %q", got)
	}
	err = &BackendError{Status: http.StatusConflict, Message: "email taken"}
	if got := err.Error(); got != "backend: 409 email taken" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRecoveryErrorUnwrapsBoth(t *testing.T) {
	cause := NewProviderError(CodeEmailAlreadyInUse, "")
	err := &RecoveryError{Outcome: RecoveryOutcome{Kind: RecoveryUnrecoverable, Reason: "cleanup_failed"}, Err: cause}

	if !errors.Is(err, ErrConflictUnrecoverable) || !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("expected both sentinels, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe != cause {
		t.Fatal("expected original provider error")
	}
}
