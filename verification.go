package authsync

import (
	"context"

	"github.com/kshay712/cleenbeez-replit-sub000/credential"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/poller"
)

// CheckEmailVerificationStatus describes the checkemailverificationstatus operation and its observable behavior.
//
// CheckEmailVerificationStatus runs the verification convergence step on
// demand: it force-refreshes the credential, reloads the identity and, when
// the email is now verified, notifies the backend (best effort), marks the
// session verified, stops the poller and navigates to a stored redirect
// intent once. It returns whether the session is verified.
// It is the single verification boundary; the timer-driven poller calls the
// same convergence logic.
func (c *Client) CheckEmailVerificationStatus(ctx context.Context) (bool, error) {
	snap := c.Snapshot()
	if !snap.IsAuthenticated() || snap.Identity == nil {
		return false, ErrNotAuthenticated
	}
	if snap.EmailVerified() {
		c.resolveIntent(ctx)
		return true, nil
	}

	uid := snap.Identity.UID
	epoch, ok := c.state.epochFor(uid)
	if !ok {
		return false, ErrStaleResult
	}

	verified, ident, cred, err := c.refreshVerification(ctx, uid)
	if err != nil {
		return false, err
	}
	if !verified {
		return false, nil
	}

	if c.cfg.Verification.NotifyBackend {
		if err := c.backend.NotifyEmailVerified(ctx, cred); err != nil {
			c.log.Named("poller").Warn("backend verification notify failed", logger.Err(err))
		}
	}

	if !c.convergeVerified(ctx, epoch, uid, ident) {
		return false, ErrStaleResult
	}
	if c.poller.Active() {
		c.poller.Stop()
	}
	return true, nil
}

// refreshVerification refreshes the credential and identity and applies the
// verification rule. The identity must still be uid.
func (c *Client) refreshVerification(ctx context.Context, uid string) (bool, *ExternalIdentity, string, error) {
	cred, err := c.provider.RefreshCredential(ctx, true)
	if err != nil {
		return false, nil, "", err
	}
	ident, err := c.provider.ReloadIdentity(ctx)
	if err != nil {
		return false, nil, "", err
	}
	if ident == nil {
		return false, nil, "", ErrNoIdentity
	}
	if ident.UID != uid {
		return false, nil, "", ErrStaleResult
	}

	claims, err := credential.Parse(cred)
	if err != nil {
		claims = nil
	}
	return c.isVerified(ident, claims), ident, cred, nil
}

// convergeVerified marks the session verified when epoch and uid are still
// current, then consumes the redirect intent.
func (c *Client) convergeVerified(ctx context.Context, epoch uint64, uid string, ident *ExternalIdentity) bool {
	var user *LocalUser
	ok := c.state.applyIf(epoch, uid, func(s *Snapshot) bool {
		if s.User == nil {
			return false
		}
		s.State = StateAuthenticatedVerified
		if ident != nil {
			s.Identity = ident.clone()
		}
		u := *s.User
		user = &u
		return true
	})
	if !ok {
		return false
	}

	c.saveCache(ctx, user, true)
	c.metrics.Inc(MetricVerificationConverged)
	c.emitAudit(ctx, AuditVerificationConverge, true, user.ID, uid, nil, nil)
	c.resolveIntent(ctx)
	return true
}

// verificationRun pins one polling run to the identity it was started for.
type verificationRun struct {
	tab   string
	epoch uint64
	uid   string
	ident *ExternalIdentity
}

// startPoller polls for uid at epoch. A run for another identity or epoch
// is stopped first, never retargeted.
func (c *Client) startPoller(ctx context.Context, epoch uint64, uid string) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if prev := c.pollRun; prev != nil && c.poller.Active() {
		if prev.epoch == epoch && prev.uid == uid {
			return
		}
		c.poller.Stop()
	}

	run := &verificationRun{tab: TabIDFromContext(ctx), epoch: epoch, uid: uid}
	c.pollRun = run

	base := c.baseCtx
	if base == nil {
		base = context.WithoutCancel(ctx)
	}
	started := c.poller.Start(base, poller.Run{
		Check:       func(ctx context.Context) (bool, error) { return c.pollVerification(ctx, run) },
		OnConverged: func(ctx context.Context) { c.onPollConverged(ctx, run) },
	})
	if started {
		c.metrics.Inc(MetricVerificationPollStarted)
		c.log.Named("poller").Debug("verification polling started", logger.ExternalUID(uid))
	}
}

// pollVerification is the poller's check for run. It leaves polling when
// the session stops being authenticated, unverified and backed by run's
// identity.
func (c *Client) pollVerification(ctx context.Context, run *verificationRun) (bool, error) {
	c.metrics.Inc(MetricVerificationPollTick)
	ctx = WithTabID(ctx, run.tab)

	snap := c.Snapshot()
	if !snap.IsAuthenticated() || snap.Identity == nil || snap.Identity.UID != run.uid || !c.state.current(run.epoch, run.uid) {
		return false, poller.ErrAbandon
	}
	if snap.EmailVerified() {
		return false, poller.ErrAbandon
	}

	verified, ident, _, err := c.refreshVerification(ctx, run.uid)
	if err != nil {
		return false, err
	}
	if verified {
		run.ident = ident
	}
	return verified, nil
}

func (c *Client) onPollConverged(ctx context.Context, run *verificationRun) {
	ctx = WithTabID(ctx, run.tab)
	if !c.convergeVerified(ctx, run.epoch, run.uid, run.ident) {
		c.log.Named("poller").Debug("verification result discarded; session changed", logger.ExternalUID(run.uid))
	}
}

func (c *Client) onPollError(err error) {
	c.metrics.Inc(MetricVerificationPollError)
	c.log.Named("poller").Warn("verification poll failed", logger.Err(err))
}
