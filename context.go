package authsync

import "context"

type tabIDContextKey struct{}

// WithTabID attaches the browser tab identifier to ctx. PendingRegistration,
// RedirectIntent and the redirect-pending marker are scoped to this tab.
// Calls without a tab ID share the "default" tab.
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabIDContextKey{}, tabID)
}

// TabIDFromContext returns the tab ID set by WithTabID, or "".
func TabIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tabID, _ := ctx.Value(tabIDContextKey{}).(string)
	return tabID
}
