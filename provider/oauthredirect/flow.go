package oauthredirect

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/credential"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/stores"
	"golang.org/x/oauth2"
)

var (
	// ErrUnknownState is returned when the state is absent, expired or
	// already used.
	ErrUnknownState = errors.New("oauthredirect: unknown or expired state")
	// ErrStateMismatch is returned when the state was issued to another tab.
	ErrStateMismatch = errors.New("oauthredirect: state issued to a different tab")
	// ErrNoIDToken is returned when the token response lacks an id_token.
	ErrNoIDToken = errors.New("oauthredirect: token response has no id_token")
)

const statePrefix = "oauth:state:"

type pendingState struct {
	Verifier string `json:"v"`
	TabID    string `json:"t"`
	Provider string `json:"p"`
}

// Start is the redirect target and its opaque state.
type Start struct {
	URL   string
	State string
}

// Flow drives one OAuth client configuration.
type Flow struct {
	kind  authsync.ProviderKind
	oauth *oauth2.Config
	store stores.Ephemeral
	ttl   time.Duration
}

// New returns a Flow for kind. States live in store for ttl.
func New(kind authsync.ProviderKind, cfg *oauth2.Config, store stores.Ephemeral, ttl time.Duration) (*Flow, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oauthredirect: client id and redirect url are required")
	}
	if store == nil {
		return nil, errors.New("oauthredirect: store is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Flow{kind: kind, oauth: cfg, store: store, ttl: ttl}, nil
}

// Begin stores a fresh state and PKCE verifier for tabID and returns the
// authorization URL.
func (f *Flow) Begin(ctx context.Context, tabID string) (Start, error) {
	state, err := randomState()
	if err != nil {
		return Start{}, err
	}
	verifier := oauth2.GenerateVerifier()

	raw, err := json.Marshal(pendingState{Verifier: verifier, TabID: tabID, Provider: string(f.kind)})
	if err != nil {
		return Start{}, err
	}
	if err := f.store.Put(ctx, statePrefix+state, raw, f.ttl); err != nil {
		return Start{}, err
	}

	url := f.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	)
	return Start{URL: url, State: state}, nil
}

// Complete consumes state and exchanges code. A state can be completed once.
func (f *Flow) Complete(ctx context.Context, tabID, state, code string) (*oauth2.Token, error) {
	if state == "" || code == "" {
		return nil, ErrUnknownState
	}
	raw, err := f.store.Consume(ctx, statePrefix+state)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrUnknownState
		}
		return nil, err
	}
	var ps pendingState
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, ErrUnknownState
	}
	if ps.TabID != tabID {
		return nil, ErrStateMismatch
	}

	tok, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(ps.Verifier))
	if err != nil {
		return nil, &authsync.ProviderError{
			Code:    authsync.CodeInvalidCredential,
			Message: "code exchange failed",
			Err:     err,
		}
	}
	return tok, nil
}

// Identity reads the external identity from the token's id_token. The
// signature is not checked here; the backend verifies the credential.
func (f *Flow) Identity(tok *oauth2.Token) (*authsync.ExternalIdentity, string, error) {
	if tok == nil {
		return nil, "", ErrNoIDToken
	}
	idToken, _ := tok.Extra("id_token").(string)
	if strings.TrimSpace(idToken) == "" {
		return nil, "", ErrNoIDToken
	}
	claims, err := credential.Parse(idToken)
	if err != nil {
		return nil, "", fmt.Errorf("oauthredirect: %w", err)
	}
	return &authsync.ExternalIdentity{
		UID:           claims.UID,
		Email:         claims.Email,
		DisplayName:   claims.Name,
		EmailVerified: claims.EmailVerified,
		Providers:     []authsync.ProviderKind{f.kind},
	}, idToken, nil
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
