// Package prometheus exposes authsync client counters as a
// prometheus.Collector.
//
// [NewCollector] reads [authsync.Client.MetricsSnapshot] on every scrape and
// emits const metrics, so the client keeps its lock-free counters and the
// exporter owns no state. [Collector.Handler] serves a private registry;
// callers that already run a registry can Register the collector instead.
// Counter names are authsync_*_total; the histogram is
// authsync_reconcile_latency_seconds.
package prometheus
