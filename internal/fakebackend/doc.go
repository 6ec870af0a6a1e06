// Package fakebackend is an in-memory application backend speaking the REST
// contract of backend/httpclient. It backs scenario tests and the simulate
// CLI.
package fakebackend
