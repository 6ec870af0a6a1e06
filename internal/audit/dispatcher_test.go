package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "reconcile", Success: true})
	}
	d.Close()

	if got := len(sink.Events()); got != 3 {
		t.Fatalf("expected 3 delivered events, got %d", got)
	}
	if d.Emitted() != 3 {
		t.Fatalf("expected emitted counter 3, got %d", d.Emitted())
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if got := len(sink.Events()); got != 3 {
		t.Fatalf("expected emit after close to be ignored, got %d events", got)
	}
}

func TestDispatcherScrubsAddressesAndSecrets(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	meta := map[string]string{
		"target":   "ann@example.com",
		"password": "hunter2",
		"stage":    "backend",
	}
	d.Emit(context.Background(), Event{
		EventType: "register",
		Error:     "backend: email (ann@example.com) already registered",
		Metadata:  meta,
	})
	meta["stage"] = "mutated"
	d.Close()

	ev := <-sink.Events()
	if ev.Error != "backend: email (***@example.com) already registered" {
		t.Fatalf("error not masked: %q", ev.Error)
	}
	if ev.Metadata["target"] != "***@example.com" {
		t.Fatalf("metadata address not masked: %q", ev.Metadata["target"])
	}
	if _, ok := ev.Metadata["password"]; ok {
		t.Fatal("expected password metadata to be removed")
	}
	if ev.Metadata["stage"] != "backend" {
		t.Fatalf("expected metadata copied at emit, got %q", ev.Metadata["stage"])
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
	if d.Scrubbed() != 1 {
		t.Fatalf("expected 1 scrubbed event, got %d", d.Scrubbed())
	}
}

func TestMaskAddressesLeavesPlainText(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"no address here":   "no address here",
		"at @ sign alone":   "at @ sign alone",
		"to=bob@shop.test.": "to=***@shop.test.",
		"a@b.io, c@d.io":    "***@b.io, ***@d.io",
	}
	for in, want := range cases {
		if got := maskAddresses(in); got != want {
			t.Fatalf("maskAddresses(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisabledDispatcherIsNilAndSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Emitted() != 0 {
		t.Fatal("expected zero counters on nil dispatcher")
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "register", ExternalUID: "uid-1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "logout", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ExternalUID != "uid-1" || ev.EventType != "register" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
