package authsync

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricReconcileAdopted)

	if got := m.Value(MetricReconcileAdopted); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricRegisterSuccess)
	m.Inc(MetricRegisterSuccess)
	m.Inc(MetricRegisterSuccess)

	if got := m.Value(MetricRegisterSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricReconcileLatency, time.Millisecond)
	if m.Value(MetricLogout) != 0 || m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics must be inert")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricVerificationPollTick)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricVerificationPollTick); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricReconcileLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricReconcileLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("counter metric must not get a histogram")
	}
	for _, v := range snap.Histograms[MetricReconcileLatency] {
		if v != 0 {
			t.Fatalf("expected empty reconcile histogram, got %v", snap.Histograms[MetricReconcileLatency])
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricConflictRecovered)
	m.Inc(MetricConflictUnrecoverable)
	m.Inc(MetricConflictUnrecoverable)
	m.Observe(MetricReconcileLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricConflictRecovered] != 1 {
		t.Fatalf("expected MetricConflictRecovered=1 got %d", snap.Counters[MetricConflictRecovered])
	}
	if snap.Counters[MetricConflictUnrecoverable] != 2 {
		t.Fatalf("expected MetricConflictUnrecoverable=2 got %d", snap.Counters[MetricConflictUnrecoverable])
	}
	if snap.Histograms[MetricReconcileLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricReconcileLatency][0])
	}
}

func TestClientRecordsReconcileLatency(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) { c.Metrics.EnableLatencyHistograms = true }))
	env.provider.set(googleIdentity("g-1", "gina@example.com"))

	if _, err := env.client.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	var total uint64
	for _, v := range env.client.MetricsSnapshot().Histograms[MetricReconcileLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
	if got := env.client.Metrics().Value(MetricReconcileProvisioned); got != 1 {
		t.Fatalf("expected MetricReconcileProvisioned=1, got %d", got)
	}
}
