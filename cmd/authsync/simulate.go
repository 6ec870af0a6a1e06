package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/fakebackend"
	"github.com/kshay712/cleenbeez-replit-sub000/metrics/export/prometheus"
	"github.com/kshay712/cleenbeez-replit-sub000/provider/memory"
	"github.com/spf13/cobra"
)

type simulateOpts struct {
	email        string
	password     string
	pollInterval time.Duration
	timeout      time.Duration
	dumpMetrics  bool
}

type scenario func(ctx context.Context, h *harness, o simulateOpts) error

func newSimulateCmd(g *globals) *cobra.Command {
	o := simulateOpts{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted scenario against in-process fakes",
	}
	cmd.PersistentFlags().StringVar(&o.email, "email", "shopper@example.com", "account email")
	cmd.PersistentFlags().StringVar(&o.password, "password", "correct-horse", "account password")
	cmd.PersistentFlags().DurationVar(&o.pollInterval, "poll-interval", 200*time.Millisecond, "verification poll interval")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", 10*time.Second, "scenario timeout")
	cmd.PersistentFlags().BoolVar(&o.dumpMetrics, "metrics", false, "print Prometheus metrics of the last client")

	add := func(use, short string, run scenario) {
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScenario(cmd, g, o, run)
			},
		})
	}
	add("register", "Backend fails once, the identity is rolled back, re-registration succeeds", simulateRegister)
	add("oauth-fallback", "Popup blocked, redirect sign-in, pending registration, linked register", simulateOAuthFallback)
	add("conflict", "Orphaned provider identity is cleaned up and registration retried", simulateConflict)
	add("verify", "Unverified session converges once the email is verified", simulateVerify)
	return cmd
}

func runScenario(cmd *cobra.Command, g *globals, o simulateOpts, run scenario) error {
	cfg := g.cfg
	cfg.Storage.TabBackend = "redis"
	cfg.Verification.PollInterval = o.pollInterval
	cfg.Registration.RetryDelay = 50 * time.Millisecond
	if err := cfg.Validate(); err != nil {
		return err
	}

	h, err := newHarness(cfg, g.log, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer h.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	ctx = authsync.WithTabID(ctx, uuid.NewString())

	if err := run(ctx, h, o); err != nil {
		return err
	}
	if o.dumpMetrics {
		h.dumpMetrics()
	}
	h.printf("ok\n")
	return nil
}

func simulateRegister(ctx context.Context, h *harness, o simulateOpts) error {
	c, err := h.pageLoad(ctx)
	if err != nil {
		return err
	}
	if err := c.RecordRedirectIntent(ctx, "/checkout"); err != nil {
		return err
	}

	h.backend.FailNext(fakebackend.RouteRegister, http.StatusInternalServerError)
	req := authsync.RegisterRequest{Email: o.email, Password: o.password, Username: "shopper"}

	h.printf("register (backend answers 500)\n")
	_, err = c.RegisterWithRetry(ctx, req)
	if err == nil {
		return errors.New("expected first registration to fail")
	}
	h.printf("  error: %v\n", err)
	h.printf("  provider identity exists: %v\n", h.provider.HasIdentity(o.email))
	h.snapshot("after failure", c)

	h.printf("register again\n")
	user, err := c.RegisterWithRetry(ctx, req)
	if err != nil {
		return err
	}
	h.printf("  created user %s\n", user.ID)
	h.snapshot("after success", c)
	h.last = c
	return nil
}

func simulateOAuthFallback(ctx context.Context, h *harness, o simulateOpts) error {
	h.backend.SetRequireRegistration(true)
	h.provider.SetProfile(authsync.ProviderGoogle, memory.Profile{Email: o.email, DisplayName: "Shopper", Verified: true})
	h.provider.SetInteractiveBlocked(true)

	c, err := h.pageLoad(ctx)
	if err != nil {
		return err
	}
	h.printf("sign in with google (popup blocked)\n")
	res, err := c.LoginWithOAuth(ctx, authsync.ProviderGoogle)
	if err != nil {
		return err
	}
	if res.Status != authsync.OAuthRedirectPending {
		return fmt.Errorf("expected redirect fallback, got status %d", res.Status)
	}
	h.printf("  redirect started\n")
	c.Close()

	h.printf("page load after redirect\n")
	c, err = h.pageLoad(ctx)
	if err != nil {
		return err
	}
	pending, err := c.PendingRegistration(ctx)
	if err != nil {
		return err
	}
	if pending == nil {
		return errors.New("expected a pending registration")
	}
	h.printf("  pending registration: email=%s uid=%s provider=%s\n", pending.Email, pending.ExternalUID, pending.Provider)
	h.snapshot("pending", c)

	h.printf("complete registration\n")
	user, err := c.Register(ctx, authsync.RegisterRequest{Email: pending.Email, Username: "shopper"})
	if err != nil {
		return err
	}
	h.printf("  linked user %s to %s\n", user.ID, user.ExternalUID)
	h.snapshot("registered", c)
	h.last = c
	return nil
}

func simulateConflict(ctx context.Context, h *harness, o simulateOpts) error {
	h.provider.AddPasswordIdentity(o.email, "orphaned-password", false)
	h.printf("orphaned provider identity for %s\n", o.email)

	c, err := h.pageLoad(ctx)
	if err != nil {
		return err
	}
	user, err := c.RegisterWithRetry(ctx, authsync.RegisterRequest{Email: o.email, Password: o.password, Username: "shopper"})
	if err != nil {
		var rerr *authsync.RecoveryError
		if errors.As(err, &rerr) {
			h.printf("  recovery: %s (%s) %s\n", rerr.Outcome.Kind, rerr.Outcome.Reason, rerr.Outcome.Message)
		}
		return err
	}
	h.printf("  registered %s after %d cleanup retry\n", user.ID, c.Metrics().Value(authsync.MetricConflictRetry))
	h.snapshot("registered", c)
	h.last = c
	return nil
}

func simulateVerify(ctx context.Context, h *harness, o simulateOpts) error {
	c, err := h.pageLoad(ctx)
	if err != nil {
		return err
	}
	if err := c.RecordRedirectIntent(ctx, "/account/orders"); err != nil {
		return err
	}
	if _, err := c.Register(ctx, authsync.RegisterRequest{Email: o.email, Password: o.password, Username: "shopper"}); err != nil {
		return err
	}
	h.snapshot("registered", c)

	verified := make(chan struct{})
	unsub := c.Subscribe(func(s authsync.Snapshot) {
		if s.EmailVerified() {
			select {
			case <-verified:
			default:
				close(verified)
			}
		}
	})
	defer unsub()

	h.printf("user clicks the verification link\n")
	h.provider.MarkVerified(o.email)

	select {
	case <-verified:
	case <-ctx.Done():
		return fmt.Errorf("verification did not converge: %w", ctx.Err())
	}
	// convergence navigates after publishing; give it a moment to finish
	time.Sleep(o.pollInterval / 2)
	h.snapshot("verified", c)
	h.last = c
	return nil
}

func (h *harness) dumpMetrics() {
	if h.last == nil {
		return
	}
	rec := httptest.NewRecorder()
	prometheus.NewCollector(h.last).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	h.printf("%s", rec.Body.String())
}
