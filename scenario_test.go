package authsync_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/backend/httpclient"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/fakebackend"
	"github.com/kshay712/cleenbeez-replit-sub000/provider/memory"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioAdminKey = "scenario-admin-key"

// browser is one browser profile. The provider session, backend and redis
// outlive page loads; each page load gets a fresh Client.
type browser struct {
	t        *testing.T
	cfg      authsync.Config
	provider *memory.Provider
	backend  *fakebackend.Server
	rdb      *redis.Client
	baseURL  string

	mu    sync.Mutex
	paths []string
}

func newBrowser(t *testing.T, mutate func(*authsync.Config)) *browser {
	t.Helper()

	provider, err := memory.New(memory.Config{Secret: []byte("scenario-secret-0123456789abcdef")})
	require.NoError(t, err)

	be := fakebackend.New(fakebackend.Config{
		Verifier:   provider.Credentials(),
		Identities: provider,
		AdminKey:   scenarioAdminKey,
	})
	srv := httptest.NewServer(be.Handler())
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authsync.DefaultConfig()
	cfg.Storage.TabBackend = "redis"
	cfg.Registration.RetryDelay = 0
	cfg.Verification.PollInterval = 100 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	return &browser{
		t:        t,
		cfg:      cfg,
		provider: provider,
		backend:  be,
		rdb:      rdb,
		baseURL:  srv.URL,
	}
}

func (b *browser) pageLoad(ctx context.Context) *authsync.Client {
	b.t.Helper()

	be, err := httpclient.New(httpclient.Config{BaseURL: b.baseURL, AdminKey: scenarioAdminKey})
	require.NoError(b.t, err)

	c, err := authsync.New().
		WithConfig(b.cfg).
		WithRedis(b.rdb).
		WithIdentityProvider(b.provider).
		WithBackend(be).
		WithNavigator(authsync.NavigatorFunc(func(_ context.Context, path string) error {
			b.mu.Lock()
			b.paths = append(b.paths, path)
			b.mu.Unlock()
			return nil
		})).
		Build()
	require.NoError(b.t, err)
	b.t.Cleanup(c.Close)

	require.NoError(b.t, c.Start(ctx))
	return c
}

func (b *browser) navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func TestScenarioRegisterRollbackThenRetry(t *testing.T) {
	b := newBrowser(t, nil)
	ctx := authsync.WithTabID(context.Background(), "tab-1")
	c := b.pageLoad(ctx)

	b.backend.FailNext(fakebackend.RouteRegister, http.StatusInternalServerError)
	req := authsync.RegisterRequest{Email: "pat@example.com", Password: "secret-123", Username: "pat"}

	_, err := c.Register(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, authsync.ErrBackendUnavailable)
	assert.False(t, b.provider.HasIdentity("pat@example.com"), "identity must be rolled back")
	assert.Equal(t, 0, b.backend.UserCount())
	assert.False(t, c.Snapshot().IsAuthenticated())
	assert.Equal(t, 1, b.provider.VerificationEmails("pat@example.com"))

	user, err := c.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", user.Email)
	assert.True(t, b.provider.HasIdentity("pat@example.com"))
	assert.Equal(t, 1, b.backend.UserCount())

	snap := c.Snapshot()
	assert.Equal(t, authsync.StateAuthenticatedUnverified, snap.State)
	assert.Equal(t, "polling", c.PollerState())
}

func TestScenarioRedirectFallbackNeedsRegistration(t *testing.T) {
	b := newBrowser(t, nil)
	b.backend.SetRequireRegistration(true)
	b.provider.SetInteractiveBlocked(true)
	b.provider.SetProfile(authsync.ProviderGoogle, memory.Profile{Email: "gina@example.com", DisplayName: "Gina"})
	ctx := authsync.WithTabID(context.Background(), "tab-1")

	first := b.pageLoad(ctx)
	res, err := first.LoginWithOAuth(ctx, authsync.ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, authsync.OAuthRedirectPending, res.Status)
	first.Close()

	second := b.pageLoad(ctx)
	snap := second.Snapshot()
	assert.False(t, snap.IsAuthenticated())
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "gina@example.com", snap.Identity.Email)

	pending, err := second.PendingRegistration(ctx)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "gina@example.com", pending.Email)
	assert.Equal(t, snap.Identity.UID, pending.ExternalUID)
	assert.Equal(t, authsync.ProviderGoogle, pending.Provider)
	assert.Contains(t, b.navigations(), "/register")

	other, err := second.PendingRegistration(authsync.WithTabID(context.Background(), "tab-2"))
	require.NoError(t, err)
	assert.Nil(t, other, "pending registration is tab scoped")

	user, err := second.Register(ctx, authsync.RegisterRequest{Email: "gina@example.com", Username: "gina"})
	require.NoError(t, err)
	assert.Equal(t, pending.ExternalUID, user.ExternalUID)
	assert.True(t, second.Snapshot().EmailVerified())
	assert.Equal(t, 0, b.provider.Calls(memory.OpCreate))

	pending, err = second.PendingRegistration(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestScenarioRedirectConflictTerminates(t *testing.T) {
	b := newBrowser(t, nil)
	b.provider.AddPasswordIdentity("gina@example.com", "secret-123", false)
	b.provider.SetInteractiveBlocked(true)
	b.provider.SetProfile(authsync.ProviderGoogle, memory.Profile{Email: "gina@example.com"})
	ctx := authsync.WithTabID(context.Background(), "tab-1")

	first := b.pageLoad(ctx)
	_, err := first.LoginWithOAuth(ctx, authsync.ProviderGoogle)
	require.NoError(t, err)
	first.Close()

	second := b.pageLoad(ctx)
	assert.False(t, b.provider.HasIdentity("gina@example.com"), "orphaned identity must be cleaned up")
	assert.Nil(t, b.provider.CurrentIdentity())
	assert.False(t, second.Snapshot().IsAuthenticated())
	assert.Equal(t, 1, b.backend.Calls(fakebackend.RouteCleanup))

	res, err := second.ResolveRedirect(ctx)
	require.NoError(t, err)
	assert.Equal(t, authsync.OAuthIdle, res.Status)
}

func TestScenarioConflictRecoveryRetriesRegistration(t *testing.T) {
	b := newBrowser(t, nil)
	b.provider.AddPasswordIdentity("pat@example.com", "old-password", false)
	ctx := context.Background()
	c := b.pageLoad(ctx)

	user, err := c.RegisterWithRetry(ctx, authsync.RegisterRequest{
		Email:    "pat@example.com",
		Password: "secret-123",
		Username: "pat",
	})
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", user.Email)
	assert.Equal(t, 2, b.provider.Calls(memory.OpCreate))
	assert.Equal(t, 1, b.backend.Calls(fakebackend.RouteCleanup))
}

func TestScenarioConflictWithLocalUserIsUnrecoverable(t *testing.T) {
	b := newBrowser(t, nil)
	uid := b.provider.AddPasswordIdentity("pat@example.com", "old-password", true)
	b.backend.Seed(fakebackend.User{Username: "pat", Email: "pat@example.com", ExternalUID: uid})
	ctx := context.Background()
	c := b.pageLoad(ctx)

	_, err := c.RegisterWithRetry(ctx, authsync.RegisterRequest{
		Email:    "pat@example.com",
		Password: "secret-123",
		Username: "pat",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, authsync.ErrConflictUnrecoverable)
	assert.ErrorIs(t, err, authsync.ErrIdentityConflict)
	assert.Equal(t, 1, b.provider.Calls(memory.OpCreate))
	assert.True(t, b.provider.HasIdentity("pat@example.com"), "identity with a local user must survive")
}

func TestScenarioVerificationPollingConverges(t *testing.T) {
	b := newBrowser(t, nil)
	ctx := authsync.WithTabID(context.Background(), "tab-1")
	c := b.pageLoad(ctx)

	require.NoError(t, c.RecordRedirectIntent(ctx, "/orders"))
	_, err := c.Register(ctx, authsync.RegisterRequest{Email: "pat@example.com", Password: "secret-123", Username: "pat"})
	require.NoError(t, err)
	require.Equal(t, "polling", c.PollerState())

	require.True(t, b.provider.MarkVerified("pat@example.com"))

	require.Eventually(t, func() bool { return c.Snapshot().EmailVerified() }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, p := range b.navigations() {
			if p == "/orders" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "converged", c.PollerState())
}

func TestScenarioPageReloadAdoptsSession(t *testing.T) {
	b := newBrowser(t, nil)
	b.provider.SetProfile(authsync.ProviderGoogle, memory.Profile{Email: "gina@example.com", DisplayName: "Gina", Verified: true})
	ctx := context.Background()

	first := b.pageLoad(ctx)
	res, err := first.LoginWithOAuth(ctx, authsync.ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, authsync.OAuthResolved, res.Status)
	first.Close()

	second := b.pageLoad(ctx)
	snap := second.Snapshot()
	require.True(t, snap.IsAuthenticated())
	assert.Equal(t, res.User.ID, snap.User.ID)
	assert.Equal(t, 1, b.backend.Calls(fakebackend.RouteUpsert), "reload must not provision again")
}

func TestScenarioAdminCleanup(t *testing.T) {
	b := newBrowser(t, nil)
	adminUID := b.provider.AddPasswordIdentity("ada@example.com", "admin-pass", true)
	b.backend.Seed(fakebackend.User{Username: "ada", Email: "ada@example.com", Role: "admin", ExternalUID: adminUID})
	victimUID := b.provider.AddPasswordIdentity("victim@example.com", "victim-pass", false)
	b.backend.Seed(fakebackend.User{Username: "victim", Email: "victim@example.com", ExternalUID: victimUID})
	ctx := context.Background()
	c := b.pageLoad(ctx)

	_, err := c.AdminCleanupIdentity(ctx, "victim@example.com")
	assert.True(t, errors.Is(err, authsync.ErrForbidden))

	_, err = c.Login(ctx, "ada@example.com", "admin-pass")
	require.NoError(t, err)
	require.True(t, c.Snapshot().IsAdmin())

	res, err := c.AdminCleanupIdentity(ctx, "victim@example.com")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.LocalRecordDeleted)
	assert.Equal(t, victimUID, res.ExternalUID)
	assert.False(t, b.provider.HasIdentity("victim@example.com"))
	_, ok := b.backend.UserByEmail("victim@example.com")
	assert.False(t, ok)
}
