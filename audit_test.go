package authsync

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// collect drains events until eventType arrives or the deadline passes.
func (s *captureSink) collect(t *testing.T, eventType string) []AuditEvent {
	t.Helper()
	var out []AuditEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
			if ev.EventType == eventType {
				return out
			}
		case <-timeout:
			t.Fatalf("no %s event among %d collected", eventType, len(out))
			return out
		}
	}
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func withAudit(sink AuditSink, buffer int, dropIfFull bool) envOption {
	return func(cfg *Config, b *Builder) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = buffer
		cfg.Audit.DropIfFull = dropIfFull
		b.WithAuditSink(sink)
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, func(_ *Config, b *Builder) { b.WithAuditSink(sink) })

	_, _ = env.client.Login(context.Background(), "pat@example.com", "wrong")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	sink := newCaptureSink(16)
	env := newTestEnv(t, withAudit(sink, 16, true))
	env.backend.seed(LocalUser{ID: "user-7", Email: "pat@example.com", Role: RoleUser, ExternalUID: "uid-pat"})

	ctx := WithTabID(context.Background(), "tab-9")
	if _, err := env.client.Login(ctx, "pat@example.com", "super-secret-password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	events := sink.collect(t, AuditLogin)
	ev := events[len(events)-1]
	if !ev.Success {
		t.Fatal("expected successful login event")
	}
	if ev.UserID != "user-7" || ev.ExternalUID != "uid-pat" {
		t.Fatalf("unexpected ids %q / %q", ev.UserID, ev.ExternalUID)
	}
	if ev.TabID != "tab-9" {
		t.Fatalf("expected tab-9, got %q", ev.TabID)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected timestamp")
	}
	if events[0].EventType != AuditReconcile {
		t.Fatalf("expected reconcile event first, got %q", events[0].EventType)
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	env := newTestEnv(t, withAudit(sink, 1, true))
	defer close(sink.gate)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_, _ = env.client.Login(context.Background(), "pat@example.com", "wrong")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked with DropIfFull=true")
	}
	if env.client.AuditDropped() == 0 {
		t.Fatal("expected dropped events")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	env := newTestEnv(t, withAudit(sink, 1, false))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			_, _ = env.client.Login(context.Background(), "pat@example.com", "wrong")
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while the sink is stalled")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit did not resume after the sink drained")
	}
	if env.client.AuditDropped() != 0 {
		t.Fatalf("expected no drops, got %d", env.client.AuditDropped())
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   AuditRegister,
		UserID:      "u1",
		ExternalUID: "uid-1",
		Success:     true,
	})

	if !buf.Contains(`"event_type":"register"`) {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains(`"user_id":"u1"`) {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := newCaptureSink(64)
	env := newTestEnv(t, withAudit(sink, 64, false))
	env.backend.registerErr = []error{errBackend500}
	env.backend.seed(LocalUser{ID: "user-1", Email: "ada@example.com", Role: RoleAdmin, ExternalUID: "uid-ada"})
	ctx := context.Background()

	const password = "hunter2-very-secret"
	_, _ = env.client.Register(ctx, RegisterRequest{Email: "pat@example.com", Password: password, Username: "pat"})
	if _, err := env.client.Login(ctx, "ada@example.com", password); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.client.AdminCleanupIdentity(ctx, "victim@example.com"); err != nil {
		t.Fatalf("AdminCleanupIdentity failed: %v", err)
	}

	events := sink.collect(t, AuditAdminCleanup)
	var sawRollback bool
	for _, ev := range events {
		if ev.EventType == AuditRegisterRollback {
			sawRollback = true
		}
		for _, needle := range []string{password, "cred:", "victim@example.com"} {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("sensitive value %q leaked in %s error", needle, ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value %q leaked in %s metadata", needle, ev.EventType)
				}
			}
		}
	}
	if !sawRollback {
		t.Fatal("expected a rollback event")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
