// Package httpclient implements authsync.Backend over the storefront REST
// API. Non-2xx answers become *authsync.BackendError so callers can match
// them with errors.Is against the authsync sentinels.
package httpclient
