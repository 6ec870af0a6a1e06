package poller

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAbandon is returned by a Check to end its own run without converging.
// Unlike Stop, it never affects a run started after it.
var ErrAbandon = errors.New("poller: run abandoned")

// State is the poller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateConverged
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateConverged:
		return "converged"
	default:
		return "idle"
	}
}

// Config wires a Poller.
type Config struct {
	Interval  time.Duration
	NewTicker TickerFactory

	// OnError observes failed checks. Polling continues.
	OnError func(err error)
}

// Run is one polling run. Its callbacks only ever see that run; a later
// Start with a different Run cannot retarget them.
type Run struct {
	// Check reports whether the watched condition has converged.
	Check func(ctx context.Context) (bool, error)
	// OnConverged runs at most once, after the ticker is stopped.
	OnConverged func(ctx context.Context)
}

// Poller is safe for concurrent use.
type Poller struct {
	cfg Config

	mu     sync.Mutex
	state  State
	gen    uint64
	ticker Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an idle Poller.
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewRealTicker
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	return &Poller{cfg: cfg}
}

// Start begins polling run. It returns false when a run is already active or
// when run has no Check.
func (p *Poller) Start(ctx context.Context, run Run) bool {
	if p == nil || run.Check == nil {
		return false
	}
	if run.OnConverged == nil {
		run.OnConverged = func(context.Context) {}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePolling {
		return false
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.gen++
	gen := p.gen
	p.ticker = p.cfg.NewTicker(p.cfg.Interval)
	p.cancel = cancel
	p.state = StatePolling

	p.wg.Add(1)
	go p.loop(runCtx, gen, p.ticker, run)
	return true
}

// Stop tears down the active run, if any, and returns to idle.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.teardownLocked()
	p.state = StateIdle
}

// Wait blocks until the loop goroutine of the last run has exited.
func (p *Poller) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	if p == nil {
		return StateIdle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Active reports whether a run is in progress.
func (p *Poller) Active() bool {
	return p.State() == StatePolling
}

func (p *Poller) teardownLocked() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.state == StatePolling
}

func (p *Poller) loop(ctx context.Context, gen uint64, t Ticker, run Run) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}

		if !p.current(gen) {
			return
		}

		ok, err := run.Check(ctx)
		if errors.Is(err, ErrAbandon) {
			p.mu.Lock()
			if p.gen == gen && p.state == StatePolling {
				p.gen++
				p.teardownLocked()
				p.state = StateIdle
			}
			p.mu.Unlock()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.cfg.OnError(err)
			continue
		}
		if !ok {
			continue
		}

		p.mu.Lock()
		if p.gen != gen || p.state != StatePolling {
			p.mu.Unlock()
			return
		}
		p.teardownLocked()
		p.state = StateConverged
		p.mu.Unlock()

		run.OnConverged(context.WithoutCancel(ctx))
		return
	}
}
