package audit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
)

// secretKeys never leave the process in audit metadata.
var secretKeys = map[string]struct{}{
	"password":      {},
	"id_token":      {},
	"refresh_token": {},
	"access_token":  {},
	"credential":    {},
}

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. Events are
// scrubbed on Emit: addresses in the error and metadata are masked, secret
// metadata keys are removed, and the metadata map is copied so callers may
// reuse theirs.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	emitted   atomic.Uint64
	dropped   atomic.Uint64
	scrubbed  atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher is a valid no-op.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			// drain what was accepted before Close
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.sink.Emit(context.Background(), event)
	d.emitted.Add(1)
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = d.scrub(event)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *Dispatcher) scrub(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	changed := false
	if masked := maskAddresses(event.Error); masked != event.Error {
		event.Error = masked
		changed = true
	}
	if len(event.Metadata) > 0 {
		meta := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			if _, secret := secretKeys[strings.ToLower(k)]; secret {
				changed = true
				continue
			}
			masked := maskAddresses(v)
			if masked != v {
				changed = true
			}
			meta[k] = masked
		}
		event.Metadata = meta
	}
	if changed {
		d.scrubbed.Add(1)
	}
	return event
}

// maskAddresses masks every whitespace-separated token that looks like an
// email address, keeping surrounding punctuation.
func maskAddresses(s string) string {
	if strings.IndexByte(s, '@') < 0 {
		return s
	}
	words := strings.Split(s, " ")
	for i, w := range words {
		at := strings.IndexByte(w, '@')
		if at <= 0 || at == len(w)-1 {
			continue
		}
		start := strings.LastIndexAny(w[:at], "<(\"'=:,;") + 1
		end := len(w)
		for end > at+1 && strings.ContainsRune(">)\"',;:.", rune(w[end-1])) {
			end--
		}
		if start >= at {
			continue
		}
		words[i] = w[:start] + logger.MaskEmail(w[start:end]) + w[end:]
	}
	return strings.Join(words, " ")
}

// Close stops accepting events and blocks until buffered ones are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.emitted.Load()
}

// Scrubbed counts events that had an address masked or a secret removed.
func (d *Dispatcher) Scrubbed() uint64 {
	if d == nil {
		return 0
	}
	return d.scrubbed.Load()
}
