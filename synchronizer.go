package authsync

import (
	"context"
	"fmt"
	"time"

	"github.com/kshay712/cleenbeez-replit-sub000/credential"
	internalflows "github.com/kshay712/cleenbeez-replit-sub000/internal/flows"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/stores"
)

type reconcileOutcome struct {
	user     *LocalUser
	verified bool
	pending  *PendingRegistration
}

// Reconcile reconciles the provider's current identity against the backend
// and returns the resulting session. Repeating it for an unchanged identity
// returns the same user and never provisions twice.
func (c *Client) Reconcile(ctx context.Context) (Snapshot, error) {
	if c.closed.Load() {
		return Snapshot{}, ErrClientClosed
	}
	if c.devMode.Load() {
		return c.Snapshot(), nil
	}
	ident := c.provider.CurrentIdentity()
	if ident == nil {
		c.clearSession(ctx)
		return c.Snapshot(), nil
	}
	_, err := c.reconcile(ctx, ident, false)
	return c.Snapshot(), err
}

// handleIdentityChange is the provider subscription callback.
func (c *Client) handleIdentityChange(ident *ExternalIdentity) {
	if c.closed.Load() || c.devMode.Load() {
		return
	}
	ctx := c.baseCtx
	log := c.log.Named("sync")

	if ident == nil {
		log.Debug("provider signed out; clearing session")
		c.clearSession(ctx)
		return
	}

	// registration adopts its own user
	if c.registrationInFlight(ident.Email) {
		c.state.track(ident, true)
		return
	}

	snap := c.Snapshot()
	if snap.User != nil && snap.Identity != nil && snap.Identity.UID == ident.UID {
		return
	}

	if _, err := c.reconcile(ctx, ident, false); err != nil {
		log.Warn("reconcile after auth change failed", logger.ExternalUID(ident.UID), logger.Err(err))
	}
}

// reconcile collapses concurrent reconciliations of one identity.
// explicit marks user-initiated flows, which may navigate.
func (c *Client) reconcile(ctx context.Context, ident *ExternalIdentity, explicit bool) (reconcileOutcome, error) {
	v, err, shared := c.group.Do(ident.UID, func() (any, error) {
		return c.reconcileOnce(ctx, ident)
	})
	if shared {
		c.metrics.Inc(MetricReconcileDeduplicated)
	}
	out, _ := v.(reconcileOutcome)
	if err != nil {
		return out, err
	}

	switch {
	case out.user != nil && explicit && out.verified:
		c.resolveIntent(ctx)
	case out.pending != nil && explicit:
		c.navigate(ctx, c.cfg.Routes.Register)
	}
	return out, nil
}

func (c *Client) reconcileOnce(ctx context.Context, ident *ExternalIdentity) (reconcileOutcome, error) {
	start := time.Now()
	defer func() { c.metrics.Observe(MetricReconcileLatency, time.Since(start)) }()

	log := c.log.Named("sync").With(logger.ExternalUID(ident.UID))
	epoch := c.state.track(ident, true)

	cred, err := c.provider.RefreshCredential(ctx, true)
	if err != nil {
		if IsTransient(err) {
			c.metrics.Inc(MetricCredentialRefreshTransient)
			log.Warn("credential refresh failed; keeping session", logger.Err(err))
			if user := c.adoptCached(ctx, epoch, ident); user != nil {
				return reconcileOutcome{user: user, verified: c.Snapshot().EmailVerified()}, nil
			}
			c.state.settle(ident.UID)
			return reconcileOutcome{}, err
		}
		c.forceSignOut(ctx, ident, err)
		return reconcileOutcome{}, fmt.Errorf("%w: %w", ErrProvisionFailed, err)
	}

	claims, err := credential.Parse(cred)
	if err != nil {
		log.Debug("credential claims unreadable", logger.Err(err))
		claims = nil
	}
	verified := c.isVerified(ident, claims)

	res := c.flows.Reconcile(ctx, toIdentityRecord(ident), cred)
	if !c.state.current(epoch, ident.UID) {
		c.metrics.Inc(MetricReconcileStale)
		return reconcileOutcome{}, ErrStaleResult
	}

	if res.Err != nil {
		log.Warn("local user reconciliation failed; signing out", logger.Err(res.Err))
		c.forceSignOut(ctx, ident, res.Err)
		return reconcileOutcome{}, fmt.Errorf("%w: %w", ErrProvisionFailed, res.Err)
	}

	if res.Outcome == internalflows.ReconcileNeedsRegistration {
		if c.registrationInFlight(ident.Email) {
			return reconcileOutcome{}, nil
		}
		pending := &PendingRegistration{
			Email:       ident.Email,
			ExternalUID: ident.UID,
			DisplayName: ident.DisplayName,
			Provider:    primaryProvider(ident),
		}
		err := c.tabs.SavePendingRegistration(ctx, TabIDFromContext(ctx), stores.PendingRegistrationRecord{
			Email:       pending.Email,
			ExternalUID: pending.ExternalUID,
			DisplayName: pending.DisplayName,
			Provider:    string(pending.Provider),
		})
		if err != nil {
			return reconcileOutcome{}, err
		}
		c.state.settle(ident.UID)
		log.Info("identity needs registration", logger.Email(ident.Email))
		return reconcileOutcome{pending: pending}, nil
	}

	user := fromUserRecord(res.User)
	if !c.adopt(ctx, epoch, ident, user, verified) {
		c.metrics.Inc(MetricReconcileStale)
		return reconcileOutcome{}, ErrStaleResult
	}
	return reconcileOutcome{user: user, verified: verified}, nil
}

// adopt installs user as the session for ident and starts or stops the
// verification poller to match.
func (c *Client) adopt(ctx context.Context, epoch uint64, ident *ExternalIdentity, user *LocalUser, verified bool) bool {
	state := StateAuthenticatedUnverified
	if verified {
		state = StateAuthenticatedVerified
	}
	ok := c.state.applyIf(epoch, ident.UID, func(s *Snapshot) bool {
		s.User = user
		s.Identity = ident.clone()
		s.State = state
		return true
	})
	if !ok {
		return false
	}

	c.saveCache(ctx, user, verified)
	if verified {
		if c.poller.Active() {
			c.poller.Stop()
		}
	} else {
		c.startPoller(ctx, epoch, ident.UID)
	}
	return true
}

// forceSignOut keeps provider and backend from diverging: a provider
// session without a reconcilable local user is signed out.
func (c *Client) forceSignOut(ctx context.Context, ident *ExternalIdentity, cause error) {
	c.metrics.Inc(MetricForcedSignOut)
	c.emitAudit(ctx, AuditForcedSignOut, false, "", ident.UID, cause, nil)
	c.poller.Stop()
	if err := c.provider.SignOut(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn("provider sign-out failed", logger.ExternalUID(ident.UID), logger.Err(err))
	}
	c.clearSession(ctx)
}

// isVerified applies the trusted-provider rule on top of the provider's own
// verification flags.
func (c *Client) isVerified(ident *ExternalIdentity, claims *credential.Claims) bool {
	if ident.EmailVerified {
		return true
	}
	if claims != nil {
		if claims.EmailVerified {
			return true
		}
		if claims.SignInProvider != "" && c.cfg.Identity.Trusts(ProviderKind(claims.SignInProvider)) {
			return true
		}
	}
	return c.cfg.Identity.Trusts(ident.Providers...)
}

// deferProvision reports that auto-provisioning must yield to a registration
// that owns this identity.
func (c *Client) deferProvision(ctx context.Context, ident internalflows.IdentityRecord) bool {
	if c.registrationInFlight(ident.Email) {
		return true
	}
	rec, err := c.tabs.LoadPendingRegistration(ctx, TabIDFromContext(ctx))
	if err != nil || rec == nil {
		return false
	}
	return rec.ExternalUID == ident.UID
}

func primaryProvider(ident *ExternalIdentity) ProviderKind {
	for _, p := range ident.Providers {
		if p != ProviderPassword {
			return p
		}
	}
	if len(ident.Providers) > 0 {
		return ident.Providers[0]
	}
	return ""
}
