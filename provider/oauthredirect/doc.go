// Package oauthredirect runs the authorization-code leg of a full-page
// redirect sign-in with PKCE. Identity provider adapters use it to build
// the redirect URL before the page unloads and to exchange the code when
// the page loads again.
package oauthredirect
