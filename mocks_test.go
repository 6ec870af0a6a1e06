package authsync

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

/*
====================================
PROVIDER
====================================
*/

type mockProvider struct {
	mu      sync.Mutex
	current *ExternalIdentity
	subs    map[int]func(*ExternalIdentity)
	nextSub int
	nextUID int

	// queued results; an empty queue succeeds
	createErrs []error

	refreshErr       error
	reloadVerified   bool
	reloadGate       chan struct{}
	reloadEnter      chan struct{}
	interactiveErr   error
	interactiveIdent *ExternalIdentity
	redirectIdent    *ExternalIdentity
	redirectErr      error
	signOutErr       error

	createCalls      int
	refreshCalls     int
	reloadCalls      int
	sendCalls        int
	deleteCalls      int
	signOutCalls     int
	interactiveCalls int
	redirectCalls    int
	resultCalls      int
	subscribeCalls   int
}

func newMockProvider() *mockProvider {
	return &mockProvider{subs: make(map[int]func(*ExternalIdentity))}
}

// set replaces the current identity and notifies subscribers, like a
// provider auth state change.
func (p *mockProvider) set(ident *ExternalIdentity) {
	p.mu.Lock()
	p.current = ident.clone()
	subs := make([]func(*ExternalIdentity), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(ident.clone())
	}
}

func (p *mockProvider) count(field *int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *field
}

func (p *mockProvider) CreateIdentity(_ context.Context, email, _ string) (*ExternalIdentity, error) {
	p.mu.Lock()
	p.createCalls++
	if len(p.createErrs) > 0 {
		err := p.createErrs[0]
		p.createErrs = p.createErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.nextUID++
	ident := &ExternalIdentity{
		UID:       "uid-" + string(rune('a'+p.nextUID-1)),
		Email:     email,
		Providers: []ProviderKind{ProviderPassword},
	}
	p.mu.Unlock()

	p.set(ident)
	return ident.clone(), nil
}

func (p *mockProvider) SignInWithPassword(_ context.Context, email, password string) (*ExternalIdentity, error) {
	if password == "wrong" {
		return nil, NewProviderError(CodeInvalidCredential, "")
	}
	ident := &ExternalIdentity{
		UID:       "uid-" + strings.SplitN(email, "@", 2)[0],
		Email:     email,
		Providers: []ProviderKind{ProviderPassword},
	}
	p.set(ident)
	return ident.clone(), nil
}

func (p *mockProvider) SignInInteractive(_ context.Context, _ ProviderKind) (*ExternalIdentity, error) {
	p.mu.Lock()
	p.interactiveCalls++
	err, ident := p.interactiveErr, p.interactiveIdent
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.set(ident)
	return ident.clone(), nil
}

func (p *mockProvider) SignInRedirect(context.Context, ProviderKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirectCalls++
	return nil
}

func (p *mockProvider) RedirectResult(context.Context) (*ExternalIdentity, error) {
	p.mu.Lock()
	p.resultCalls++
	ident, err := p.redirectIdent, p.redirectErr
	p.redirectIdent, p.redirectErr = nil, nil
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, nil
	}
	p.set(ident)
	return ident.clone(), nil
}

func (p *mockProvider) RefreshCredential(context.Context, bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if p.refreshErr != nil {
		return "", p.refreshErr
	}
	if p.current == nil {
		return "", NewProviderError(CodeUserNotFound, "no current user")
	}
	return "cred:" + p.current.UID, nil
}

func (p *mockProvider) ReloadIdentity(context.Context) (*ExternalIdentity, error) {
	p.mu.Lock()
	p.reloadCalls++
	if p.current == nil {
		p.mu.Unlock()
		return nil, nil
	}
	if p.reloadVerified {
		p.current.EmailVerified = true
	}
	ident := p.current.clone()
	gate, enter := p.reloadGate, p.reloadEnter
	p.mu.Unlock()

	if gate != nil {
		if enter != nil {
			enter <- struct{}{}
		}
		<-gate
	}
	return ident, nil
}

func (p *mockProvider) SendVerificationEmail(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendCalls++
	return nil
}

func (p *mockProvider) DeleteIdentity(context.Context) error {
	p.mu.Lock()
	p.deleteCalls++
	p.mu.Unlock()
	p.set(nil)
	return nil
}

func (p *mockProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	err := p.signOutErr
	p.mu.Unlock()
	p.set(nil)
	return err
}

func (p *mockProvider) Subscribe(fn func(*ExternalIdentity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribeCalls++
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *mockProvider) CurrentIdentity() *ExternalIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.clone()
}

/*
====================================
BACKEND
====================================
*/

type mockBackend struct {
	mu      sync.Mutex
	users   map[string]*LocalUser
	nextID  int
	cleanup CleanupResult

	lookupErr   error
	upsertErr   error
	registerErr []error
	cleanupErr  error
	lookupGate  chan struct{}
	lookupEnter chan struct{}

	lookupCalls   atomic.Int32
	upsertCalls   atomic.Int32
	registerCalls atomic.Int32
	cleanupCalls  atomic.Int32
	notifyCalls   atomic.Int32
	signOutCalls  atomic.Int32
	privileged    atomic.Bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		users:   make(map[string]*LocalUser),
		cleanup: CleanupResult{Success: true},
	}
}

func (b *mockBackend) seed(u LocalUser) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[u.ExternalUID] = &u
}

func (b *mockBackend) uidFrom(cred string) string {
	return strings.TrimPrefix(cred, "cred:")
}

func (b *mockBackend) LookupUser(_ context.Context, cred string) (*LocalUser, error) {
	b.lookupCalls.Add(1)
	if b.lookupEnter != nil {
		b.lookupEnter <- struct{}{}
	}
	if b.lookupGate != nil {
		<-b.lookupGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	u, ok := b.users[b.uidFrom(cred)]
	if !ok {
		return nil, &BackendError{Op: "lookup", Status: http.StatusNotFound}
	}
	out := *u
	return &out, nil
}

func (b *mockBackend) RegisterUser(_ context.Context, cred string, req BackendRegisterRequest) (*LocalUser, error) {
	b.registerCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.registerErr) > 0 {
		err := b.registerErr[0]
		b.registerErr = b.registerErr[1:]
		if err != nil {
			return nil, err
		}
	}
	if b.uidFrom(cred) != req.ExternalUID {
		return nil, &BackendError{Op: "register", Status: http.StatusUnauthorized}
	}
	return b.createLocked(req.Email, req.Username, req.ExternalUID), nil
}

func (b *mockBackend) UpsertOAuthUser(_ context.Context, req UpsertRequest) (*LocalUser, error) {
	b.upsertCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.upsertErr != nil {
		return nil, b.upsertErr
	}
	if u, ok := b.users[req.ExternalUID]; ok {
		out := *u
		return &out, nil
	}
	return b.createLocked(req.Email, req.Username, req.ExternalUID), nil
}

func (b *mockBackend) createLocked(email, username, uid string) *LocalUser {
	b.nextID++
	u := &LocalUser{
		ID:          "user-" + string(rune('0'+b.nextID)),
		Username:    username,
		Email:       email,
		Role:        RoleUser,
		ExternalUID: uid,
	}
	b.users[uid] = u
	out := *u
	return &out
}

func (b *mockBackend) CleanupExternalIdentity(_ context.Context, _ string, privileged bool) (CleanupResult, error) {
	b.cleanupCalls.Add(1)
	b.privileged.Store(privileged)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleanup, b.cleanupErr
}

func (b *mockBackend) NotifyEmailVerified(context.Context, string) error {
	b.notifyCalls.Add(1)
	return nil
}

func (b *mockBackend) SignOutServerSession(context.Context) error {
	b.signOutCalls.Add(1)
	return nil
}

/*
====================================
NAVIGATOR / TICKER
====================================
*/

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
	seen  chan string
}

func newRecordingNavigator() *recordingNavigator {
	return &recordingNavigator{seen: make(chan string, 16)}
}

func (n *recordingNavigator) Navigate(_ context.Context, path string) error {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.mu.Unlock()
	select {
	case n.seen <- path:
	default:
	}
	return nil
}

func (n *recordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func (n *recordingNavigator) await(t *testing.T) string {
	t.Helper()
	select {
	case p := <-n.seen:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no navigation")
		return ""
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) factory(time.Duration) PollTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) last() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[len(c.tickers)-1]
}

func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.last().ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("poller did not receive tick")
	}
}

/*
====================================
HARNESS
====================================
*/

type testEnv struct {
	client   *Client
	provider *mockProvider
	backend  *mockBackend
	nav      *recordingNavigator
	clock    *fakeClock
}

type envOption func(*Config, *Builder)

func withRedis(rdb *redis.Client) envOption {
	return func(_ *Config, b *Builder) { b.WithRedis(rdb) }
}

func withConfig(fn func(*Config)) envOption {
	return func(cfg *Config, _ *Builder) { fn(cfg) }
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	return newTestEnvWith(t, newMockProvider(), newMockBackend(), opts...)
}

func newTestEnvWith(t *testing.T, p *mockProvider, be *mockBackend, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		provider: p,
		backend:  be,
		nav:      newRecordingNavigator(),
		clock:    &fakeClock{},
	}

	cfg := DefaultConfig()
	b := New()
	for _, opt := range opts {
		opt(&cfg, b)
	}
	client, err := b.
		WithConfig(cfg).
		WithIdentityProvider(p).
		WithBackend(be).
		WithNavigator(env.nav).
		WithPollTicker(env.clock.factory).
		WithRetryTimer(func(time.Duration) *time.Timer { return time.NewTimer(0) }).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)
	env.client = client
	return env
}

func googleIdentity(uid, email string) *ExternalIdentity {
	return &ExternalIdentity{
		UID:         uid,
		Email:       email,
		DisplayName: "Gina Grower",
		Providers:   []ProviderKind{ProviderGoogle},
	}
}

func conflictError(email string) error {
	return &ProviderError{Code: CodeEmailAlreadyInUse, Email: email}
}

var errBackend500 = &BackendError{Op: "register", Status: http.StatusInternalServerError}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
