package middleware

import (
	"context"
	"net/http"
	"strings"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
)

// TabHeader carries the tab ID when Options.TabID is nil.
const TabHeader = "X-Tab-Id"

// Session is the part of *authsync.Client the guards use.
type Session interface {
	Snapshot() authsync.Snapshot
	RecordRedirectIntent(ctx context.Context, path string) error
}

// Options configures the guards.
type Options struct {
	LoginPath       string
	VerifyEmailPath string
	// TabID extracts the tab ID; defaults to the X-Tab-Id header.
	TabID func(*http.Request) string
}

func (o Options) withDefaults() Options {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.VerifyEmailPath == "" {
		o.VerifyEmailPath = "/verify-email"
	}
	if o.TabID == nil {
		o.TabID = func(r *http.Request) string { return strings.TrimSpace(r.Header.Get(TabHeader)) }
	}
	return o
}

// OptionsFromRoutes builds Options from the client route config.
func OptionsFromRoutes(routes authsync.RoutesConfig) Options {
	return Options{LoginPath: routes.Login, VerifyEmailPath: routes.VerifyEmail}
}

type snapshotContextKey struct{}

// SnapshotFromContext returns the Snapshot a guard admitted the request with.
func SnapshotFromContext(ctx context.Context) (authsync.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(authsync.Snapshot)
	return snap, ok
}

// RequireAuthenticated admits requests with an adopted local user.
func RequireAuthenticated(s Session, opts Options) func(http.Handler) http.Handler {
	return guard(s, opts.withDefaults(), false)
}

// RequireVerified admits authenticated requests whose email is verified.
func RequireVerified(s Session, opts Options) func(http.Handler) http.Handler {
	return guard(s, opts.withDefaults(), true)
}

func guard(s Session, opts Options, verified bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			snap := s.Snapshot()
			if snap.IsLoading() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			}

			switch {
			case !snap.IsAuthenticated():
				redirectWithIntent(w, r, s, opts, opts.LoginPath)
				return
			case verified && !snap.EmailVerified():
				redirectWithIntent(w, r, s, opts, opts.VerifyEmailPath)
				return
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func redirectWithIntent(w http.ResponseWriter, r *http.Request, s Session, opts Options, target string) {
	ctx := authsync.WithTabID(r.Context(), opts.TabID(r))
	// a path the intent store rejects is simply not remembered
	_ = s.RecordRedirectIntent(ctx, r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}
