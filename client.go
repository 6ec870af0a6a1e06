package authsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kshay712/cleenbeez-replit-sub000/internal/audit"
	internalflows "github.com/kshay712/cleenbeez-replit-sub000/internal/flows"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/poller"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/rate"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/stores"
	"github.com/kshay712/cleenbeez-replit-sub000/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Client reconciles the identity provider's session with the backend's
// local user and publishes the result as a Snapshot. All methods are safe
// for concurrent use.
type Client struct {
	cfg      Config
	provider IdentityProvider
	backend  Backend
	nav      Navigator
	log      *zap.Logger

	sessions *session.Store
	tabs     *stores.TabStore
	audit    *audit.Dispatcher
	metrics  *Metrics
	flows    internalflows.Service
	poller   *poller.Poller
	resend   *rate.Limiter
	state    *stateContainer
	group    singleflight.Group
	newTimer func(time.Duration) *time.Timer

	inflightMu sync.Mutex
	inflight   map[string]int

	baseCtx     context.Context
	startOnce   sync.Once
	unsubMu     sync.Mutex
	unsubscribe func()

	redirectOnce sync.Once
	oauthState   atomic.Int32

	pollMu  sync.Mutex
	pollRun *verificationRun

	devMode atomic.Bool
	closed  atomic.Bool
}

// Start describes the start operation and its observable behavior.
//
// Start restores a dev session when enabled, otherwise subscribes to provider
// auth changes, resolves a pending redirect sign-in once, and reconciles the
// provider's current identity. ctx's tab ID becomes the tab for background
// reconciliation. Only the first call has any effect.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	var err error
	c.startOnce.Do(func() {
		err = c.start(ctx)
	})
	return err
}

func (c *Client) start(ctx context.Context) error {
	c.baseCtx = context.WithoutCancel(ctx)

	if c.cfg.DevSession.Enabled {
		if ok := c.restoreDevSession(ctx); ok {
			return nil
		}
	}

	unsub := c.provider.Subscribe(c.handleIdentityChange)
	c.unsubMu.Lock()
	c.unsubscribe = unsub
	c.unsubMu.Unlock()

	if ident := c.provider.CurrentIdentity(); ident != nil {
		epoch := c.state.track(ident, true)
		c.adoptCached(ctx, epoch, ident)
	}

	res, err := c.ResolveRedirect(ctx)
	if err != nil {
		return err
	}
	if res.Status != OAuthIdle {
		return nil
	}

	ident := c.provider.CurrentIdentity()
	if ident == nil {
		c.clearSession(ctx)
		return nil
	}
	if _, err := c.reconcile(ctx, ident, false); err != nil && !IsTransient(err) {
		return err
	}
	return nil
}

// Close stops background work and flushes audit events. The Client cannot
// be restarted.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.unsubMu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.unsubMu.Unlock()

	c.poller.Stop()
	c.poller.Wait()
	c.audit.Close()
}

// Snapshot returns a copy of the current session state.
func (c *Client) Snapshot() Snapshot {
	return c.state.snapshot()
}

// Subscribe registers fn for every session change. fn runs synchronously on
// the writer's goroutine and must not call mutating Client methods.
func (c *Client) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return c.state.subscribe(fn)
}

// PollerState reports the verification poller lifecycle state.
func (c *Client) PollerState() string {
	return c.poller.State().String()
}

// Metrics returns the live counters for exporters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot copies the current counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// Login signs in with email and password and reconciles the local user.
func (c *Client) Login(ctx context.Context, email, password string) (*LocalUser, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidRequest
	}

	ident, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.emitAudit(ctx, AuditLogin, false, "", "", err, nil)
		return nil, err
	}
	if ident == nil {
		return nil, ErrNoIdentity
	}

	out, err := c.reconcile(ctx, ident, true)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		return nil, err
	}
	if out.user == nil {
		c.metrics.Inc(MetricLoginFailure)
		return nil, ErrUserNotFound
	}
	c.metrics.Inc(MetricLoginSuccess)
	c.emitAudit(ctx, AuditLogin, true, out.user.ID, ident.UID, nil, nil)
	return out.user, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout stops the verification poller, asks the backend to drop its session
// (best effort), signs out of the provider, and clears local state and the
// durable cache. Local state is cleared even when the provider sign-out fails;
// that error is returned.
func (c *Client) Logout(ctx context.Context) error {
	c.poller.Stop()

	snap := c.Snapshot()
	if err := c.backend.SignOutServerSession(ctx); err != nil {
		c.log.Warn("server session sign-out failed", logger.Err(err))
	}

	var providerErr error
	if !c.devMode.Swap(false) {
		providerErr = c.provider.SignOut(ctx)
	}

	c.clearSession(ctx)
	if err := c.tabs.DeletePendingRegistration(ctx, TabIDFromContext(ctx)); err != nil {
		c.log.Debug("pending registration cleanup failed", logger.Err(err))
	}

	c.metrics.Inc(MetricLogout)
	var userID, uid string
	if snap.User != nil {
		userID, uid = snap.User.ID, snap.User.ExternalUID
	}
	c.emitAudit(ctx, AuditLogout, providerErr == nil, userID, uid, providerErr, nil)
	return providerErr
}

// PendingRegistration returns the tab's pending registration, or nil.
func (c *Client) PendingRegistration(ctx context.Context) (*PendingRegistration, error) {
	rec, err := c.tabs.LoadPendingRegistration(ctx, TabIDFromContext(ctx))
	if err != nil || rec == nil {
		return nil, err
	}
	return &PendingRegistration{
		Email:       rec.Email,
		ExternalUID: rec.ExternalUID,
		DisplayName: rec.DisplayName,
		Provider:    ProviderKind(rec.Provider),
	}, nil
}

// RecordRedirectIntent stores the path the user was heading to when an auth
// requirement interrupted navigation. It is consumed once, by whichever of
// login or verification resolves the block first.
func (c *Client) RecordRedirectIntent(ctx context.Context, path string) error {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return ErrInvalidRequest
	}
	return c.tabs.SetRedirectIntent(ctx, TabIDFromContext(ctx), path)
}

// AdminCleanupIdentity removes the provider identity and local record for
// email through the privileged backend endpoint. The session must belong to
// an admin.
func (c *Client) AdminCleanupIdentity(ctx context.Context, email string) (CleanupResult, error) {
	snap := c.Snapshot()
	if !snap.IsAdmin() {
		return CleanupResult{}, ErrForbidden
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return CleanupResult{}, ErrInvalidRequest
	}

	res, err := c.backend.CleanupExternalIdentity(ctx, email, true)
	c.emitAudit(ctx, AuditAdminCleanup, err == nil && res.Success, snap.User.ID, res.ExternalUID, err, func() map[string]string {
		return map[string]string{"target": logger.MaskEmail(email)}
	})
	return res, err
}

// ResendVerificationEmail asks the provider to send another verification
// email for the signed-in, unverified identity.
func (c *Client) ResendVerificationEmail(ctx context.Context) error {
	snap := c.Snapshot()
	if snap.Identity == nil {
		return ErrNoIdentity
	}
	if snap.EmailVerified() {
		return nil
	}
	if err := c.resend.AllowResend(ctx, snap.Identity.UID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			c.metrics.Inc(MetricVerificationResendLimited)
			return ErrTooManyAttempts
		}
		c.log.Warn("resend limiter unavailable", zap.Error(err))
	}
	if err := c.provider.SendVerificationEmail(ctx); err != nil {
		return err
	}
	c.metrics.Inc(MetricVerificationEmailSent)
	return nil
}

// EnableDevSession writes the locally trusted development session marker
// for user. The next Start adopts it without contacting the provider.
func (c *Client) EnableDevSession(ctx context.Context, user LocalUser) error {
	if !c.cfg.DevSession.Enabled || c.sessions == nil {
		return ErrDevSessionDisabled
	}
	if user.ID == "" || user.ExternalUID == "" {
		return ErrInvalidRequest
	}
	return c.sessions.Save(ctx, c.cfg.Storage.SessionKey, &session.Record{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        string(user.Role),
		ExternalUID: user.ExternalUID,
		Verified:    true,
		Dev:         true,
	})
}

func (c *Client) restoreDevSession(ctx context.Context) bool {
	if c.sessions == nil {
		return false
	}
	rec, err := c.sessions.Load(ctx, c.cfg.Storage.SessionKey)
	if err != nil || !rec.Dev {
		return false
	}
	user := userFromRecord(rec)
	c.state.replace(Snapshot{
		State: StateAuthenticatedVerified,
		User:  user,
		Identity: &ExternalIdentity{
			UID:           rec.ExternalUID,
			Email:         rec.Email,
			EmailVerified: true,
		},
	})
	c.devMode.Store(true)
	c.log.Warn("dev session adopted; provider reconciliation skipped", logger.UserID(user.ID))
	return true
}

// clearSession drops local state, the poller and the durable cache.
func (c *Client) clearSession(ctx context.Context) {
	c.poller.Stop()
	c.state.clear()
	if c.sessions != nil {
		if err := c.sessions.Delete(context.WithoutCancel(ctx), c.cfg.Storage.SessionKey); err != nil {
			c.log.Warn("durable session delete failed", logger.Err(err))
		}
	}
}

func (c *Client) saveCache(ctx context.Context, user *LocalUser, verified bool) {
	if c.sessions == nil || user == nil {
		return
	}
	err := c.sessions.Save(context.WithoutCancel(ctx), c.cfg.Storage.SessionKey, &session.Record{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        string(user.Role),
		ExternalUID: user.ExternalUID,
		Verified:    verified,
	})
	if err != nil {
		c.log.Warn("durable session save failed", logger.Err(err))
	}
}

// adoptCached adopts the durable session for ident when it belongs to the
// same external identity.
func (c *Client) adoptCached(ctx context.Context, epoch uint64, ident *ExternalIdentity) *LocalUser {
	if c.sessions == nil {
		return nil
	}
	rec, err := c.sessions.Load(ctx, c.cfg.Storage.SessionKey)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			c.log.Warn("durable session load failed", logger.Err(err))
		}
		c.metrics.Inc(MetricSessionCacheMiss)
		return nil
	}
	if rec.Dev || rec.ExternalUID != ident.UID {
		c.metrics.Inc(MetricSessionCacheMiss)
		return nil
	}

	user := userFromRecord(rec)
	state := StateAuthenticatedUnverified
	if rec.Verified {
		state = StateAuthenticatedVerified
	}
	ok := c.state.applyIf(epoch, ident.UID, func(s *Snapshot) bool {
		s.User = user
		s.State = state
		return true
	})
	if !ok {
		return nil
	}
	c.metrics.Inc(MetricSessionCacheHit)
	return user
}

func userFromRecord(rec *session.Record) *LocalUser {
	return &LocalUser{
		ID:          rec.UserID,
		Username:    rec.Username,
		Email:       rec.Email,
		Role:        Role(rec.Role),
		ExternalUID: rec.ExternalUID,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// beginRegistration marks email as owned by an in-flight registration.
func (c *Client) beginRegistration(email string) func() {
	key := normalizeEmail(email)
	c.inflightMu.Lock()
	c.inflight[key]++
	c.inflightMu.Unlock()

	return func() {
		c.inflightMu.Lock()
		if c.inflight[key] <= 1 {
			delete(c.inflight, key)
		} else {
			c.inflight[key]--
		}
		c.inflightMu.Unlock()
	}
}

func (c *Client) registrationInFlight(email string) bool {
	if email == "" {
		return false
	}
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return c.inflight[normalizeEmail(email)] > 0
}

func (c *Client) resolveIntent(ctx context.Context) {
	path, err := c.tabs.ConsumeRedirectIntent(ctx, TabIDFromContext(ctx))
	if err != nil {
		c.log.Warn("redirect intent read failed", logger.Err(err))
		return
	}
	if path == "" {
		return
	}
	c.metrics.Inc(MetricRedirectIntentConsumed)
	if err := c.nav.Navigate(ctx, path); err != nil {
		c.log.Warn("navigation failed", zap.String("path", path), logger.Err(err))
	}
}

func (c *Client) navigate(ctx context.Context, path string) {
	if err := c.nav.Navigate(ctx, path); err != nil {
		c.log.Warn("navigation failed", zap.String("path", path), logger.Err(err))
	}
}
