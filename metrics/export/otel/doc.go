// Package otel exports authsync client metrics through OpenTelemetry.
//
// Counters are grouped per flow (reconcile, registration, conflict,
// verification, oauth, session) into one Int64ObservableCounter each, with
// the outcome carried as an attribute. Reconcile latency is a
// Float64Histogram using the client's bucket bounds. A single callback reads
// [authsync.Client.MetricsSnapshot] on each collection. Callers own the
// MeterProvider.
package otel
