// Package memory is an in-process identity provider for tests, local
// development and the simulate CLI.
//
// It keeps identities in memory, issues HS256 credentials through the
// credential package and lets callers inject failures per operation. A
// Provider models one browser profile: it holds at most one signed-in
// identity and remembers a redirect sign-in across Client instances, which
// is how a page reload is simulated.
package memory
