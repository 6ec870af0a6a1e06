package authsync

import (
	"context"
	"errors"
	"time"

	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/stores"
	"go.uber.org/zap"
)

// OAuthState is the OAuth flow controller state.
type OAuthState int32

const (
	OAuthStateIdle OAuthState = iota
	OAuthStateAwaitingInteractive
	OAuthStateResolved
	OAuthStateRedirectPending
)

func (s OAuthState) String() string {
	switch s {
	case OAuthStateAwaitingInteractive:
		return "awaiting-interactive"
	case OAuthStateResolved:
		return "resolved"
	case OAuthStateRedirectPending:
		return "redirect-pending"
	default:
		return "idle"
	}
}

// OAuthStatus classifies an OAuthResult.
type OAuthStatus int

const (
	// OAuthIdle means nothing happened (no redirect result pending).
	OAuthIdle OAuthStatus = iota
	// OAuthResolved means a local user was adopted.
	OAuthResolved
	// OAuthNeedsRegistration means a PendingRegistration was stored and the
	// user was sent to the registration route.
	OAuthNeedsRegistration
	// OAuthRedirectPending means the interactive attempt failed and a
	// full-page redirect was started.
	OAuthRedirectPending
	// OAuthTerminated means redirect completion hit an identity conflict;
	// cleanup ran and the user must start again.
	OAuthTerminated
)

// OAuthResult is returned by LoginWithOAuth and ResolveRedirect.
type OAuthResult struct {
	Status   OAuthStatus
	User     *LocalUser
	Pending  *PendingRegistration
	Recovery *RecoveryOutcome
}

// OAuthState returns the controller state.
func (c *Client) OAuthState() OAuthState {
	return OAuthState(c.oauthState.Load())
}

// LoginWithOAuth describes the loginwithoauth operation and its observable behavior.
//
// LoginWithOAuth attempts an interactive sign-in with kind. If the
// interactive attempt fails for any reason and OAuth.RedirectFallback is set,
// it records a redirect-pending marker for the tab and starts a full-page
// redirect; the result is then picked up by ResolveRedirect on the next page
// load. A successful interactive sign-in is reconciled immediately.
func (c *Client) LoginWithOAuth(ctx context.Context, kind ProviderKind) (*OAuthResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if kind == "" || kind == ProviderPassword {
		return nil, ErrInvalidRequest
	}
	log := c.log.Named("oauth").With(logger.Provider(string(kind)))

	c.oauthState.Store(int32(OAuthStateAwaitingInteractive))
	ident, err := c.provider.SignInInteractive(ctx, kind)
	if err != nil {
		if !c.cfg.OAuth.RedirectFallback {
			c.oauthState.Store(int32(OAuthStateIdle))
			return nil, err
		}
		log.Info("interactive sign-in failed; falling back to redirect", zap.String("code", ProviderCode(err)), logger.Err(err))

		tabID := TabIDFromContext(ctx)
		if err := c.tabs.MarkRedirectPending(ctx, tabID, stores.RedirectPendingRecord{
			Provider:  string(kind),
			StartedAt: time.Now().Unix(),
		}); err != nil {
			c.oauthState.Store(int32(OAuthStateIdle))
			return nil, err
		}
		if err := c.provider.SignInRedirect(ctx, kind); err != nil {
			_, _ = c.tabs.ConsumeRedirectPending(ctx, tabID)
			c.oauthState.Store(int32(OAuthStateIdle))
			return nil, err
		}

		c.oauthState.Store(int32(OAuthStateRedirectPending))
		c.metrics.Inc(MetricOAuthRedirectFallback)
		c.emitAudit(ctx, AuditOAuthRedirect, true, "", "", err, func() map[string]string {
			return map[string]string{"provider": string(kind), "stage": "started"}
		})
		return &OAuthResult{Status: OAuthRedirectPending}, nil
	}
	if ident == nil {
		c.oauthState.Store(int32(OAuthStateIdle))
		return nil, ErrNoIdentity
	}

	res, err := c.completeOAuth(ctx, ident)
	if err == nil && res.Status == OAuthResolved {
		c.metrics.Inc(MetricOAuthInteractiveSuccess)
	}
	c.emitAudit(ctx, AuditOAuthInteractive, err == nil, "", ident.UID, err, nil)
	return res, err
}

// ResolveRedirect describes the resolveredirect operation and its observable behavior.
//
// ResolveRedirect completes a pending redirect sign-in. It runs at most once
// per Client (one Client per page load; Start calls it). Later calls return
// an OAuthIdle result without contacting the provider. A pending result is
// reconciled with the same lookup-or-upsert logic as the interactive path. An
// identity conflict still runs cleanup but terminates the flow.
func (c *Client) ResolveRedirect(ctx context.Context) (*OAuthResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	var (
		res *OAuthResult
		err error
		ran bool
	)
	c.redirectOnce.Do(func() {
		ran = true
		res, err = c.resolveRedirect(ctx)
	})
	if !ran {
		return &OAuthResult{Status: OAuthIdle}, nil
	}
	return res, err
}

func (c *Client) resolveRedirect(ctx context.Context) (*OAuthResult, error) {
	log := c.log.Named("oauth")
	tabID := TabIDFromContext(ctx)

	marker, err := c.tabs.ConsumeRedirectPending(ctx, tabID)
	if err != nil {
		log.Warn("redirect marker read failed", logger.Err(err))
	}

	ident, err := c.provider.RedirectResult(ctx)
	if err != nil {
		if errors.Is(err, ErrIdentityConflict) {
			return c.terminateRedirect(ctx, err), nil
		}
		c.oauthState.Store(int32(OAuthStateIdle))
		c.emitAudit(ctx, AuditOAuthRedirect, false, "", "", err, nil)
		return nil, err
	}
	if ident == nil {
		if marker != nil {
			log.Info("redirect marker without provider result", logger.Provider(marker.Provider))
		}
		return &OAuthResult{Status: OAuthIdle}, nil
	}

	res, err := c.completeOAuth(ctx, ident)
	if err == nil {
		c.metrics.Inc(MetricOAuthRedirectResolved)
	}
	c.emitAudit(ctx, AuditOAuthRedirect, err == nil, "", ident.UID, err, func() map[string]string {
		return map[string]string{"stage": "resolved"}
	})
	return res, err
}

// terminateRedirect runs conflict cleanup for a redirect completion. The page
// has already reloaded once, so the flow cannot resume: the provider session
// is signed out and the user starts over.
func (c *Client) terminateRedirect(ctx context.Context, cause error) *OAuthResult {
	var email string
	var pe *ProviderError
	if errors.As(cause, &pe) {
		email = pe.Email
	}
	outcome := c.recoverConflict(ctx, email, cause, false)

	if err := c.provider.SignOut(ctx); err != nil {
		c.log.Named("oauth").Warn("provider sign-out after conflict failed", logger.Err(err))
	}
	c.clearSession(ctx)
	c.oauthState.Store(int32(OAuthStateIdle))
	c.emitAudit(ctx, AuditOAuthRedirect, false, "", outcome.ExternalUID, cause, func() map[string]string {
		return map[string]string{"stage": "terminated", "recovery": outcome.Kind.String()}
	})
	return &OAuthResult{Status: OAuthTerminated, Recovery: &outcome}
}

func (c *Client) completeOAuth(ctx context.Context, ident *ExternalIdentity) (*OAuthResult, error) {
	snap := c.Snapshot()
	if snap.User != nil && snap.Identity != nil && snap.Identity.UID == ident.UID {
		if snap.EmailVerified() {
			c.resolveIntent(ctx)
		}
		c.oauthState.Store(int32(OAuthStateResolved))
		return &OAuthResult{Status: OAuthResolved, User: snap.User}, nil
	}

	out, err := c.reconcile(ctx, ident, true)
	if err != nil {
		c.oauthState.Store(int32(OAuthStateIdle))
		return nil, err
	}
	c.oauthState.Store(int32(OAuthStateResolved))
	switch {
	case out.user != nil:
		return &OAuthResult{Status: OAuthResolved, User: out.user}, nil
	case out.pending != nil:
		return &OAuthResult{Status: OAuthNeedsRegistration, Pending: out.pending}, nil
	default:
		return &OAuthResult{Status: OAuthIdle}, nil
	}
}
