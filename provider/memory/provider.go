package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/credential"
)

// Op names an injectable provider operation.
type Op string

const (
	OpCreate           Op = "create"
	OpSignIn           Op = "sign_in"
	OpInteractive      Op = "interactive"
	OpRedirect         Op = "redirect"
	OpRedirectResult   Op = "redirect_result"
	OpRefresh          Op = "refresh"
	OpReload           Op = "reload"
	OpSendVerification Op = "send_verification"
	OpDelete           Op = "delete"
	OpSignOut          Op = "sign_out"
)

// Profile is the account a user picks in an OAuth popup or redirect.
type Profile struct {
	Email       string
	DisplayName string
	Verified    bool
}

type identity struct {
	uid         string
	email       string
	password    string
	displayName string
	verified    bool
	providers   []authsync.ProviderKind
}

// Config configures a Provider.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Provider implements authsync.IdentityProvider in memory.
type Provider struct {
	creds *credential.Manager

	mu        sync.Mutex
	byUID     map[string]*identity
	byEmail   map[string]string
	profiles  map[authsync.ProviderKind]Profile
	current   *identity
	method    authsync.ProviderKind
	redirect  authsync.ProviderKind
	blocked   bool
	failures  map[Op][]error
	calls     map[Op]int
	sent      map[string]int
	subs      map[int]func(*authsync.ExternalIdentity)
	nextSubID int
}

// New returns an empty Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = "authsync-memory"
	}
	m, err := credential.NewManager(credential.Config{
		Secret: cfg.Secret,
		Issuer: cfg.Issuer,
		TTL:    cfg.TTL,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		creds:    m,
		byUID:    map[string]*identity{},
		byEmail:  map[string]string{},
		profiles: map[authsync.ProviderKind]Profile{},
		failures: map[Op][]error{},
		calls:    map[Op]int{},
		sent:     map[string]int{},
		subs:     map[int]func(*authsync.ExternalIdentity){},
	}, nil
}

// Credentials returns the manager that signs this provider's credentials.
// Backends use it to verify them.
func (p *Provider) Credentials() *credential.Manager {
	return p.creds
}

/* ==== TEST CONTROLS ==== */

// FailNext queues err for the next call of op. Queued errors are consumed in
// order.
func (p *Provider) FailNext(op Op, err error) {
	p.mu.Lock()
	p.failures[op] = append(p.failures[op], err)
	p.mu.Unlock()
}

// SetInteractiveBlocked makes interactive sign-ins fail with
// auth/popup-blocked.
func (p *Provider) SetInteractiveBlocked(blocked bool) {
	p.mu.Lock()
	p.blocked = blocked
	p.mu.Unlock()
}

// SetProfile sets the account returned by OAuth sign-ins with kind.
func (p *Provider) SetProfile(kind authsync.ProviderKind, profile Profile) {
	p.mu.Lock()
	p.profiles[kind] = profile
	p.mu.Unlock()
}

// AddPasswordIdentity creates an identity without signing it in.
func (p *Provider) AddPasswordIdentity(email, password string, verified bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.insertLocked(email, password, "", verified, authsync.ProviderPassword)
	return id.uid
}

// MarkVerified flips the verification flag for email, as if the user
// clicked the verification link.
func (p *Provider) MarkVerified(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.byEmailLocked(email)
	if id == nil {
		return false
	}
	id.verified = true
	return true
}

// DeleteByEmail removes the identity for email. It is the admin-side delete
// used by backend cleanup and does not touch the signed-in session unless
// it belongs to the deleted identity.
func (p *Provider) DeleteByEmail(_ context.Context, email string) (string, bool, error) {
	p.mu.Lock()
	id := p.byEmailLocked(email)
	if id == nil {
		p.mu.Unlock()
		return "", false, nil
	}
	p.removeLocked(id)
	signedOut := p.current != nil && p.current.uid == id.uid
	if signedOut {
		p.current = nil
		p.method = ""
	}
	subs := p.subscribersLocked()
	p.mu.Unlock()

	if signedOut {
		notify(subs, nil)
	}
	return id.uid, true, nil
}

// HasIdentity reports whether an identity exists for email.
func (p *Provider) HasIdentity(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byEmailLocked(email) != nil
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// VerificationEmails returns how many verification emails were sent to
// email.
func (p *Provider) VerificationEmails(email string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[normalize(email)]
}

/* ==== IDENTITY PROVIDER ==== */

func (p *Provider) CreateIdentity(_ context.Context, email, password string) (*authsync.ExternalIdentity, error) {
	p.mu.Lock()
	if err := p.beginLocked(OpCreate); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" || len(password) < 6 {
		p.mu.Unlock()
		return nil, authsync.NewProviderError("auth/weak-password", "password must be at least 6 characters")
	}
	if p.byEmailLocked(email) != nil {
		p.mu.Unlock()
		return nil, conflict(email)
	}
	id := p.insertLocked(email, password, "", false, authsync.ProviderPassword)
	return p.signInLocked(id, authsync.ProviderPassword), nil
}

func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*authsync.ExternalIdentity, error) {
	p.mu.Lock()
	if err := p.beginLocked(OpSignIn); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	id := p.byEmailLocked(email)
	if id == nil || id.password == "" || id.password != password {
		p.mu.Unlock()
		return nil, authsync.NewProviderError(authsync.CodeInvalidCredential, "")
	}
	return p.signInLocked(id, authsync.ProviderPassword), nil
}

func (p *Provider) SignInInteractive(_ context.Context, kind authsync.ProviderKind) (*authsync.ExternalIdentity, error) {
	p.mu.Lock()
	if err := p.beginLocked(OpInteractive); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.blocked {
		p.mu.Unlock()
		return nil, authsync.NewProviderError(authsync.CodePopupBlocked, "")
	}
	id, err := p.oauthIdentityLocked(kind)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	return p.signInLocked(id, kind), nil
}

func (p *Provider) SignInRedirect(_ context.Context, kind authsync.ProviderKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.beginLocked(OpRedirect); err != nil {
		return err
	}
	if _, ok := p.profiles[kind]; !ok {
		return authsync.NewProviderError(authsync.CodeOperationNotSupported, "no account for "+string(kind))
	}
	p.redirect = kind
	return nil
}

func (p *Provider) RedirectResult(_ context.Context) (*authsync.ExternalIdentity, error) {
	p.mu.Lock()
	if err := p.beginLocked(OpRedirectResult); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	kind := p.redirect
	p.redirect = ""
	if kind == "" {
		p.mu.Unlock()
		return nil, nil
	}
	id, err := p.oauthIdentityLocked(kind)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	return p.signInLocked(id, kind), nil
}

func (p *Provider) RefreshCredential(_ context.Context, _ bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.beginLocked(OpRefresh); err != nil {
		return "", err
	}
	if p.current == nil {
		return "", authsync.NewProviderError(authsync.CodeUserNotFound, "no signed-in identity")
	}
	return p.creds.Issue(credential.Claims{
		UID:            p.current.uid,
		Email:          p.current.email,
		EmailVerified:  p.current.verified,
		Name:           p.current.displayName,
		SignInProvider: string(p.method),
	})
}

func (p *Provider) ReloadIdentity(_ context.Context) (*authsync.ExternalIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.beginLocked(OpReload); err != nil {
		return nil, err
	}
	if p.current == nil {
		return nil, nil
	}
	return p.current.external(), nil
}

func (p *Provider) SendVerificationEmail(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.beginLocked(OpSendVerification); err != nil {
		return err
	}
	if p.current == nil {
		return authsync.NewProviderError(authsync.CodeUserNotFound, "no signed-in identity")
	}
	p.sent[normalize(p.current.email)]++
	return nil
}

func (p *Provider) DeleteIdentity(_ context.Context) error {
	p.mu.Lock()
	if err := p.beginLocked(OpDelete); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.current == nil {
		p.mu.Unlock()
		return authsync.NewProviderError(authsync.CodeUserNotFound, "no signed-in identity")
	}
	p.removeLocked(p.current)
	p.current = nil
	p.method = ""
	subs := p.subscribersLocked()
	p.mu.Unlock()

	notify(subs, nil)
	return nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	if err := p.beginLocked(OpSignOut); err != nil {
		p.mu.Unlock()
		return err
	}
	was := p.current != nil
	p.current = nil
	p.method = ""
	subs := p.subscribersLocked()
	p.mu.Unlock()

	if was {
		notify(subs, nil)
	}
	return nil
}

func (p *Provider) Subscribe(fn func(*authsync.ExternalIdentity)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Provider) CurrentIdentity() *authsync.ExternalIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.external()
}

/* ==== INTERNALS ==== */

// beginLocked counts the call and pops an injected failure.
func (p *Provider) beginLocked(op Op) error {
	p.calls[op]++
	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[op] = queue[1:]
	return err
}

func (p *Provider) insertLocked(email, password, name string, verified bool, kind authsync.ProviderKind) *identity {
	id := &identity{
		uid:         uuid.NewString(),
		email:       strings.TrimSpace(email),
		password:    password,
		displayName: name,
		verified:    verified,
		providers:   []authsync.ProviderKind{kind},
	}
	p.byUID[id.uid] = id
	p.byEmail[normalize(email)] = id.uid
	return id
}

func (p *Provider) removeLocked(id *identity) {
	delete(p.byUID, id.uid)
	if p.byEmail[normalize(id.email)] == id.uid {
		delete(p.byEmail, normalize(id.email))
	}
}

func (p *Provider) byEmailLocked(email string) *identity {
	uid, ok := p.byEmail[normalize(email)]
	if !ok {
		return nil
	}
	return p.byUID[uid]
}

// oauthIdentityLocked returns the identity for the kind's profile, creating
// it on first use. An existing identity for the same email that was not
// created through kind is a conflict.
func (p *Provider) oauthIdentityLocked(kind authsync.ProviderKind) (*identity, error) {
	profile, ok := p.profiles[kind]
	if !ok {
		return nil, authsync.NewProviderError(authsync.CodePopupClosedByUser, "")
	}
	if id := p.byEmailLocked(profile.Email); id != nil {
		if !slices.Contains(id.providers, kind) {
			return nil, conflict(profile.Email)
		}
		return id, nil
	}
	return p.insertLocked(profile.Email, "", profile.DisplayName, profile.Verified, kind), nil
}

// signInLocked installs id as the current identity, releases the lock and
// notifies subscribers.
func (p *Provider) signInLocked(id *identity, kind authsync.ProviderKind) *authsync.ExternalIdentity {
	p.current = id
	p.method = kind
	out := id.external()
	subs := p.subscribersLocked()
	p.mu.Unlock()

	notify(subs, id.external())
	return out
}

func (p *Provider) subscribersLocked() []func(*authsync.ExternalIdentity) {
	out := make([]func(*authsync.ExternalIdentity), 0, len(p.subs))
	for i := 0; i < p.nextSubID; i++ {
		if fn, ok := p.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(subs []func(*authsync.ExternalIdentity), ident *authsync.ExternalIdentity) {
	for _, fn := range subs {
		fn(ident)
	}
}

func (id *identity) external() *authsync.ExternalIdentity {
	return &authsync.ExternalIdentity{
		UID:           id.uid,
		Email:         id.email,
		DisplayName:   id.displayName,
		EmailVerified: id.verified,
		Providers:     slices.Clone(id.providers),
	}
}

func conflict(email string) error {
	return &authsync.ProviderError{
		Code:    authsync.CodeEmailAlreadyInUse,
		Message: "an identity already exists for this email",
		Email:   email,
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ authsync.IdentityProvider = (*Provider)(nil)
