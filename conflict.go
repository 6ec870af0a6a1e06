package authsync

import (
	"context"
	"fmt"

	internalflows "github.com/kshay712/cleenbeez-replit-sub000/internal/flows"
)

// RecoveryKind discriminates RecoveryOutcome.
type RecoveryKind int

const (
	// RecoveryNotApplicable means the error was not an identity conflict.
	RecoveryNotApplicable RecoveryKind = iota
	// RecoveryRecovered means the orphaned identity was cleaned up.
	RecoveryRecovered
	// RecoveryUnrecoverable means cleanup failed; the user should sign in
	// or contact support.
	RecoveryUnrecoverable
)

func (k RecoveryKind) String() string {
	switch k {
	case RecoveryRecovered:
		return "recovered"
	case RecoveryUnrecoverable:
		return "unrecoverable"
	default:
		return "not_applicable"
	}
}

// RecoveryOutcome is the result of one conflict cleanup. Retry is true only
// for Recovered outcomes whose caller can resume.
type RecoveryOutcome struct {
	Kind               RecoveryKind
	Retry              bool
	Reason             string
	Message            string
	ExternalUID        string
	LocalRecordDeleted bool
}

// RecoveryError is returned by RegisterWithRetry when recovery did not allow
// a retry. Err is the original provider error.
type RecoveryError struct {
	Outcome RecoveryOutcome
	Err     error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrConflictUnrecoverable, e.Outcome.Reason, e.Err)
}

func (e *RecoveryError) Unwrap() []error {
	return []error{ErrConflictUnrecoverable, e.Err}
}

// RecoverConflict runs identity-conflict cleanup for email through the
// non-privileged backend endpoint. It never retries the failed operation.
func (c *Client) RecoverConflict(ctx context.Context, email string, cause error) RecoveryOutcome {
	return c.recoverConflict(ctx, email, cause, true)
}

func (c *Client) recoverConflict(ctx context.Context, email string, cause error, allowRetry bool) RecoveryOutcome {
	res := c.flows.RecoverConflict(ctx, normalizeEmail(email), cause, allowRetry)
	return RecoveryOutcome{
		Kind:               recoveryKind(res.Kind),
		Retry:              res.Retry,
		Reason:             res.Reason,
		Message:            res.Message,
		ExternalUID:        res.ExternalUID,
		LocalRecordDeleted: res.LocalRecordDeleted,
	}
}

func recoveryKind(k internalflows.RecoveryKind) RecoveryKind {
	switch k {
	case internalflows.RecoveryRecovered:
		return RecoveryRecovered
	case internalflows.RecoveryUnrecoverable:
		return RecoveryUnrecoverable
	default:
		return RecoveryNotApplicable
	}
}
