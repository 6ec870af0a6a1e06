package memory

import (
	"context"
	"errors"
	"testing"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/credential"
)

var testSecret = []byte("memory-provider-test-secret-0123")

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestCreateIdentitySignsInAndNotifies(t *testing.T) {
	p := newTestProvider(t)
	var seen []*authsync.ExternalIdentity
	p.Subscribe(func(id *authsync.ExternalIdentity) { seen = append(seen, id) })

	id, err := p.CreateIdentity(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if id.UID == "" || id.EmailVerified || !id.HasProvider(authsync.ProviderPassword) {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if cur := p.CurrentIdentity(); cur == nil || cur.UID != id.UID {
		t.Fatalf("expected created identity to be signed in")
	}
	if len(seen) != 1 || seen[0].UID != id.UID {
		t.Fatalf("expected one notification, got %d", len(seen))
	}
}

func TestCreateIdentityConflictCarriesEmail(t *testing.T) {
	p := newTestProvider(t)
	p.AddPasswordIdentity("taken@example.com", "secret1", false)

	_, err := p.CreateIdentity(context.Background(), "Taken@example.com", "secret2")
	if !errors.Is(err, authsync.ErrIdentityConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var pe *authsync.ProviderError
	if !errors.As(err, &pe) || pe.Email != "Taken@example.com" {
		t.Fatalf("expected email on provider error, got %+v", pe)
	}
}

func TestRefreshCredentialReflectsVerification(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	if _, err := p.CreateIdentity(ctx, "v@example.com", "secret1"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	tok, err := p.RefreshCredential(ctx, true)
	if err != nil {
		t.Fatalf("RefreshCredential: %v", err)
	}
	claims, err := p.Credentials().Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.EmailVerified || claims.SignInProvider != string(authsync.ProviderPassword) {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	p.MarkVerified("v@example.com")
	tok, _ = p.RefreshCredential(ctx, true)
	claims, err = credential.Parse(tok)
	if err != nil || !claims.EmailVerified {
		t.Fatalf("expected verified claims, got %+v err=%v", claims, err)
	}
	ident, _ := p.ReloadIdentity(ctx)
	if ident == nil || !ident.EmailVerified {
		t.Fatalf("expected reloaded identity to be verified")
	}
}

func TestInteractiveBlockedThenRedirect(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	p.SetProfile(authsync.ProviderGoogle, Profile{Email: "g@example.com", DisplayName: "Gee", Verified: true})
	p.SetInteractiveBlocked(true)

	if _, err := p.SignInInteractive(ctx, authsync.ProviderGoogle); !errors.Is(err, authsync.ErrInteractiveUnavailable) {
		t.Fatalf("expected popup blocked, got %v", err)
	}
	if res, err := p.RedirectResult(ctx); res != nil || err != nil {
		t.Fatalf("expected no redirect result before redirect, got %v %v", res, err)
	}
	if err := p.SignInRedirect(ctx, authsync.ProviderGoogle); err != nil {
		t.Fatalf("SignInRedirect: %v", err)
	}

	res, err := p.RedirectResult(ctx)
	if err != nil || res == nil {
		t.Fatalf("expected redirect result, got %v %v", res, err)
	}
	if res.Email != "g@example.com" || !res.HasProvider(authsync.ProviderGoogle) {
		t.Fatalf("unexpected identity: %+v", res)
	}
	if again, _ := p.RedirectResult(ctx); again != nil {
		t.Fatalf("redirect result must be delivered once")
	}
}

func TestOAuthConflictsWithPasswordIdentity(t *testing.T) {
	p := newTestProvider(t)
	p.AddPasswordIdentity("dup@example.com", "secret1", true)
	p.SetProfile(authsync.ProviderGoogle, Profile{Email: "dup@example.com"})

	_, err := p.SignInInteractive(context.Background(), authsync.ProviderGoogle)
	if !errors.Is(err, authsync.ErrIdentityConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFailNextIsConsumedInOrder(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	boom := authsync.NewProviderError(authsync.CodeNetworkRequestFailed, "")
	p.FailNext(OpSignIn, boom)
	p.AddPasswordIdentity("f@example.com", "secret1", false)

	if _, err := p.SignInWithPassword(ctx, "f@example.com", "secret1"); !errors.Is(err, authsync.ErrProviderUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := p.SignInWithPassword(ctx, "f@example.com", "secret1"); err != nil {
		t.Fatalf("second sign-in should succeed: %v", err)
	}
	if got := p.Calls(OpSignIn); got != 2 {
		t.Fatalf("expected 2 sign-in calls, got %d", got)
	}
}

func TestDeleteIdentitySignsOut(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	var last *authsync.ExternalIdentity
	notified := 0
	unsub := p.Subscribe(func(id *authsync.ExternalIdentity) { last = id; notified++ })
	defer unsub()

	if _, err := p.CreateIdentity(ctx, "d@example.com", "secret1"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := p.DeleteIdentity(ctx); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	if p.CurrentIdentity() != nil || p.HasIdentity("d@example.com") {
		t.Fatalf("identity should be gone")
	}
	if notified != 2 || last != nil {
		t.Fatalf("expected sign-in then nil notification, got %d last=%v", notified, last)
	}
}

func TestDeleteByEmailLeavesOtherSession(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	p.AddPasswordIdentity("orphan@example.com", "secret1", false)
	if _, err := p.CreateIdentity(ctx, "me@example.com", "secret1"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	uid, ok, err := p.DeleteByEmail(ctx, "orphan@example.com")
	if err != nil || !ok || uid == "" {
		t.Fatalf("DeleteByEmail: uid=%q ok=%v err=%v", uid, ok, err)
	}
	if cur := p.CurrentIdentity(); cur == nil || cur.Email != "me@example.com" {
		t.Fatalf("signed-in identity must survive admin delete of another")
	}
	if _, ok, _ := p.DeleteByEmail(ctx, "orphan@example.com"); ok {
		t.Fatalf("second delete should report not found")
	}
}
