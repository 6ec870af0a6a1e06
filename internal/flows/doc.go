// Package flows contains pure-function orchestrators for the client's
// identity operations.
//
// Each flow function (RunReconcile, RunRegister, RunConflictRecovery)
// accepts a typed dependency struct and returns a result value. Flows never
// mutate session state themselves; the root client applies results after
// checking that the identity they were computed for is still current.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the identity provider, the backend,
// audit and metrics through function fields. They do NOT own any of these
// resources.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
package flows
