// Package authsync keeps a browser tab's view of "who is signed in" consistent
// between an external identity provider and the storefront backend's local
// user records.
//
// The provider owns credentials and email verification. The backend owns the
// local user, its role and its profile. A [Client] listens to the provider's
// session, reconciles it with the backend and publishes the result as a
// [Snapshot]. Client methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// authsync is the public surface. It exposes [Client], [Builder], [Config],
// the [IdentityProvider] and [Backend] contracts, and value types
// ([Snapshot], [LocalUser], [RecoveryOutcome], [OAuthResult]). Flow
// orchestration, tab-scoped storage, rate limiting, the verification poller
// and audit dispatch live under internal/.
//
// # Ordering
//
// Every identity change starts a new epoch. Results computed for an older
// epoch are discarded, and subscribers observe snapshots in generation order.
// Concurrent reconciliations of the same identity share one backend round
// trip.
//
// # What this package must NOT do
//
//   - Log or audit passwords, credentials or raw email addresses.
//   - Delete a provider identity that has a local user, except through
//     [Client.AdminCleanupIdentity].
//   - Import any sub-package that re-imports authsync.
package authsync
