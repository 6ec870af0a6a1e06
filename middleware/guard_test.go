package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	snap   authsync.Snapshot
	tab    string
	intent string
}

func (f *fakeSession) Snapshot() authsync.Snapshot { return f.snap }

func (f *fakeSession) RecordRedirectIntent(ctx context.Context, path string) error {
	f.tab = authsync.TabIDFromContext(ctx)
	f.intent = path
	return nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := SnapshotFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func user(role authsync.Role) *authsync.LocalUser {
	return &authsync.LocalUser{ID: "1", Email: "a@example.com", Role: role, ExternalUID: "u1"}
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(TabHeader, "tab-1")
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthenticatedRecordsIntent(t *testing.T) {
	s := &fakeSession{}
	h := RequireAuthenticated(s, Options{})(okHandler())

	rec := serve(h, "/orders?page=2")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
	require.Equal(t, "/orders?page=2", s.intent)
	require.Equal(t, "tab-1", s.tab)

	s.snap = authsync.Snapshot{State: authsync.StateAuthenticatedUnverified, User: user(authsync.RoleUser)}
	rec = serve(h, "/orders")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireVerifiedRedirectsToVerifyEmail(t *testing.T) {
	s := &fakeSession{snap: authsync.Snapshot{State: authsync.StateAuthenticatedUnverified, User: user(authsync.RoleUser)}}
	h := RequireVerified(s, OptionsFromRoutes(authsync.RoutesConfig{Login: "/signin", VerifyEmail: "/check-inbox"}))(okHandler())

	rec := serve(h, "/checkout")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/check-inbox", rec.Header().Get("Location"))
	require.Equal(t, "/checkout", s.intent)

	s.snap.State = authsync.StateAuthenticatedVerified
	require.Equal(t, http.StatusOK, serve(h, "/checkout").Code)
}

func TestLoadingSessionAsksToRetry(t *testing.T) {
	s := &fakeSession{snap: authsync.Snapshot{State: authsync.StateAuthenticating}}
	rec := serve(RequireAuthenticated(s, Options{})(okHandler()), "/orders")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Empty(t, s.intent)
}

func TestRequireRole(t *testing.T) {
	s := &fakeSession{snap: authsync.Snapshot{State: authsync.StateAuthenticatedVerified, User: user(authsync.RoleEditor)}}

	require.Equal(t, http.StatusOK, serve(RequireRole(s, authsync.RoleEditor, Options{})(okHandler()), "/cms").Code)
	require.Equal(t, http.StatusForbidden, serve(RequireRole(s, authsync.RoleAdmin, Options{})(okHandler()), "/admin").Code)

	s.snap.User = user(authsync.RoleAdmin)
	require.Equal(t, http.StatusOK, serve(RequireRole(s, authsync.RoleEditor, Options{})(okHandler()), "/cms").Code)

	s.snap = authsync.Snapshot{}
	rec := serve(RequireRole(s, authsync.RoleAdmin, Options{})(okHandler()), "/admin")
	require.Equal(t, http.StatusSeeOther, rec.Code)
}
