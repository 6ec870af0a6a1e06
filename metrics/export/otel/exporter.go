package otel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *authsync.Client.
type MetricsSource interface {
	MetricsSnapshot() authsync.MetricsSnapshot
	AuditDropped() uint64
}

// flow groups client counters into one OTel counter with an attribute per
// outcome, so dashboards can stack a flow's outcomes.
type flow struct {
	name     string
	desc     string
	key      attribute.Key
	outcomes []outcome
}

type outcome struct {
	id    authsync.MetricID
	value string
}

var flows = []flow{
	{
		name: "authsync.reconcile.outcomes", desc: "Identity reconciliations by outcome.", key: "outcome",
		outcomes: []outcome{
			{authsync.MetricReconcileAdopted, "adopted"},
			{authsync.MetricReconcileProvisioned, "provisioned"},
			{authsync.MetricReconcileNeedsRegistration, "needs_registration"},
			{authsync.MetricReconcileFailure, "failure"},
			{authsync.MetricReconcileDeduplicated, "deduplicated"},
			{authsync.MetricReconcileStale, "stale"},
			{authsync.MetricCredentialRefreshTransient, "refresh_transient"},
			{authsync.MetricForcedSignOut, "forced_sign_out"},
		},
	},
	{
		name: "authsync.registration.outcomes", desc: "Registrations by outcome.", key: "outcome",
		outcomes: []outcome{
			{authsync.MetricRegisterSuccess, "success"},
			{authsync.MetricRegisterFailure, "failure"},
			{authsync.MetricRegisterRollback, "rollback"},
		},
	},
	{
		name: "authsync.conflict.outcomes", desc: "Identity conflict recoveries by outcome.", key: "outcome",
		outcomes: []outcome{
			{authsync.MetricConflictRecovered, "recovered"},
			{authsync.MetricConflictUnrecoverable, "unrecoverable"},
			{authsync.MetricConflictRetry, "retry"},
		},
	},
	{
		name: "authsync.verification.events", desc: "Email verification events.", key: "event",
		outcomes: []outcome{
			{authsync.MetricVerificationEmailSent, "email_sent"},
			{authsync.MetricVerificationResendLimited, "resend_limited"},
			{authsync.MetricVerificationPollStarted, "poll_started"},
			{authsync.MetricVerificationPollTick, "poll_tick"},
			{authsync.MetricVerificationPollError, "poll_error"},
			{authsync.MetricVerificationConverged, "converged"},
			{authsync.MetricRedirectIntentConsumed, "intent_consumed"},
		},
	},
	{
		name: "authsync.oauth.events", desc: "OAuth sign-in events.", key: "event",
		outcomes: []outcome{
			{authsync.MetricOAuthInteractiveSuccess, "interactive_success"},
			{authsync.MetricOAuthRedirectFallback, "redirect_fallback"},
			{authsync.MetricOAuthRedirectResolved, "redirect_resolved"},
		},
	},
	{
		name: "authsync.session.events", desc: "Password sign-in, sign-out and session cache events.", key: "event",
		outcomes: []outcome{
			{authsync.MetricLoginSuccess, "login_success"},
			{authsync.MetricLoginFailure, "login_failure"},
			{authsync.MetricLogout, "logout"},
			{authsync.MetricSessionCacheHit, "cache_hit"},
			{authsync.MetricSessionCacheMiss, "cache_miss"},
		},
	},
}

type observedFlow struct {
	instrument metric.Int64ObservableCounter
	outcomes   []outcome
	attrs      []metric.ObserveOption
}

// Exporter observes a metrics source on each collection.
//
// Reconcile latency is a native OTel histogram. The client keeps only bucket
// counts, so each collection replays the new samples at their bucket's upper
// bound; counts are exact and the sum is an upper estimate.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration
	flows        []observedFlow
	auditDropped metric.Int64ObservableCounter

	latency metric.Float64Histogram
	mu      sync.Mutex
	seen    [8]uint64
}

// NewExporter registers instruments on meter for client.
func NewExporter(meter metric.Meter, client *authsync.Client) (*Exporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, client)
}

// NewExporterFromSource is NewExporter for any metrics source.
func NewExporterFromSource(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(flows)+1)

	for _, f := range flows {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithDescription(f.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", f.name, err)
		}
		of := observedFlow{instrument: ins, outcomes: f.outcomes}
		for _, o := range f.outcomes {
			of.attrs = append(of.attrs, metric.WithAttributes(f.key.String(o.value)))
		}
		e.flows = append(e.flows, of)
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"authsync.audit.dropped",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	latency, err := meter.Float64Histogram(
		"authsync.reconcile.duration",
		metric.WithDescription("Identity reconciliation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(internaldefs.HistogramUpperBounds...),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconcile latency histogram: %w", err)
	}
	e.latency = latency

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(ctx context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.flows {
		for i, o := range f.outcomes {
			observer.ObserveInt64(f.instrument, int64(snapshot.Counters[o.id]), f.attrs[i])
		}
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	e.replayLatency(ctx, internaldefs.NormalizeBuckets(snapshot.Histograms[authsync.MetricReconcileLatency]))
	return nil
}

// replayLatency records the samples that arrived since the last collection.
func (e *Exporter) replayLatency(ctx context.Context, buckets [8]uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bounds := internaldefs.HistogramUpperBounds
	for i, n := range buckets {
		if n <= e.seen[i] {
			continue
		}
		v := 2 * bounds[len(bounds)-1]
		if i < len(bounds) {
			v = bounds[i]
		}
		for k := e.seen[i]; k < n; k++ {
			e.latency.Record(ctx, v)
		}
		e.seen[i] = n
	}
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
