package middleware

import (
	"net/http"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
)

// RequireRole admits authenticated requests whose user holds role. Admins
// pass editor checks. Anonymous requests are redirected like
// RequireAuthenticated.
func RequireRole(s Session, role authsync.Role, opts Options) func(http.Handler) http.Handler {
	auth := RequireAuthenticated(s, opts)
	return func(next http.Handler) http.Handler {
		return auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, _ := SnapshotFromContext(r.Context())
			if !hasRole(snap, role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func hasRole(snap authsync.Snapshot, role authsync.Role) bool {
	switch role {
	case authsync.RoleAdmin:
		return snap.IsAdmin()
	case authsync.RoleEditor:
		return snap.IsEditor()
	default:
		return snap.IsAuthenticated()
	}
}
