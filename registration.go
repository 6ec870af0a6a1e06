package authsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	internalflows "github.com/kshay712/cleenbeez-replit-sub000/internal/flows"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
)

// Register describes the register operation and its observable behavior.
//
// Register creates a password identity at the provider (or links the signed-in
// identity named by req.ExternalUID, or the tab's PendingRegistration when its
// email matches), then creates the backend user. On a backend failure a
// freshly created identity is deleted before the error is returned, so the
// only lasting side effect of a failed call is a sent verification email.
// Register never retries; see RegisterWithRetry.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*LocalUser, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	log := c.log.Named("registration")
	tabID := TabIDFromContext(ctx)

	req.Email = strings.TrimSpace(req.Email)
	if req.ExternalUID == "" {
		if pending, _ := c.tabs.LoadPendingRegistration(ctx, tabID); pending != nil && strings.EqualFold(pending.Email, req.Email) {
			if cur := c.provider.CurrentIdentity(); cur != nil && cur.UID == pending.ExternalUID {
				req.ExternalUID = pending.ExternalUID
			}
		}
	}
	if req.ExternalUID != "" {
		cur := c.provider.CurrentIdentity()
		if cur == nil || cur.UID != req.ExternalUID {
			return nil, ErrNoIdentity
		}
	}

	release := c.beginRegistration(req.Email)
	defer release()

	res := c.flows.Register(ctx, internalflows.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Username:    req.Username,
		ExternalUID: req.ExternalUID,
	})
	if res.Err != nil {
		log.Info("registration failed",
			logger.Email(req.Email),
			logger.ExternalUID(res.ExternalUID),
			logger.Err(res.Err),
		)
		if res.ExternalUID != "" && !res.RolledBack {
			c.state.settle(res.ExternalUID)
		}
		return nil, res.Err
	}

	ident := c.provider.CurrentIdentity()
	if ident == nil || ident.UID != res.ExternalUID {
		return nil, ErrStaleResult
	}
	epoch := c.state.track(ident, true)
	user := fromUserRecord(res.User)
	verified := c.isVerified(ident, nil)
	if !c.adopt(ctx, epoch, ident, user, verified) {
		return nil, ErrStaleResult
	}

	if err := c.tabs.DeletePendingRegistration(ctx, tabID); err != nil {
		log.Warn("pending registration delete failed", logger.Err(err))
	}
	if verified {
		c.resolveIntent(ctx)
	}
	log.Info("registered", logger.UserID(user.ID), logger.ExternalUID(user.ExternalUID))
	return user, nil
}

// RegisterWithRetry describes the registerwithretry operation and its observable behavior.
//
// RegisterWithRetry calls Register up to Registration.MaxAttempts times. After
// an identity-conflict failure it runs conflict recovery once per attempt and
// retries after Registration.RetryDelay when recovery succeeded. On the final
// conflicting attempt it returns the original provider error unchanged. Other
// errors are returned immediately.
func (c *Client) RegisterWithRetry(ctx context.Context, req RegisterRequest) (*LocalUser, error) {
	maxAttempts := c.cfg.Registration.MaxAttempts
	log := c.log.Named("registration")

	for attempt := 1; ; attempt++ {
		user, err := c.Register(ctx, req)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrIdentityConflict) || attempt >= maxAttempts {
			return nil, err
		}

		outcome := c.RecoverConflict(ctx, req.Email, err)
		if outcome.Kind != RecoveryRecovered || !outcome.Retry {
			return nil, &RecoveryError{Outcome: outcome, Err: err}
		}

		c.metrics.Inc(MetricConflictRetry)
		log.Info("retrying registration after conflict recovery", logger.Attempt(attempt+1), logger.Email(req.Email))
		if err := c.wait(ctx, c.cfg.Registration.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.newTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registration retry: %w", ctx.Err())
	}
}
