package authsync

import (
	"context"
	"errors"
	"time"

	"github.com/kshay712/cleenbeez-replit-sub000/internal/poller"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/rate"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/stores"
	"github.com/kshay712/cleenbeez-replit-sub000/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PollTicker is the ticker used by the verification poller.
type PollTicker = poller.Ticker

// Builder assembles a Client. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	provider  IdentityProvider
	backend   Backend
	navigator Navigator

	logger    *zap.Logger
	auditSink AuditSink
	newTicker poller.TickerFactory
	newTimer  func(time.Duration) *time.Timer

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a Builder seeded with DefaultConfig.
// New does not mutate shared global state and can be used concurrently.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig stores a deep copy of cfg; later changes to cfg do not affect the Builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis enables the durable session cache and, when Storage.TabBackend is "redis", the tab store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the required identity provider.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithBackend sets the required application backend.
func (b *Builder) WithBackend(be Backend) *Builder {
	b.backend = be
	return b
}

// WithNavigator sets the navigation target. Defaults to a no-op.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithLogger sets the zap logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink has no effect unless Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the reconcile latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithPollTicker replaces the verification poller's ticker factory.
func (b *Builder) WithPollTicker(factory func(time.Duration) PollTicker) *Builder {
	b.newTicker = factory
	return b
}

// WithRetryTimer replaces the timer used to delay registration retries.
func (b *Builder) WithRetryTimer(newTimer func(time.Duration) *time.Timer) *Builder {
	b.newTimer = newTimer
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when the configuration is invalid or a required collaborator is missing.
// The returned Client is idle until Start is called.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}
	if b.backend == nil {
		return nil, errors.New("backend required")
	}
	if b.redis == nil {
		if cfg.Storage.TabBackend == "redis" {
			return nil, errors.New("redis tab backend requires redis client")
		}
		if cfg.DevSession.Enabled {
			return nil, errors.New("dev session requires redis client")
		}
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		cfg:      cfg,
		provider: b.provider,
		backend:  b.backend,
		nav:      b.navigator,
		log:      log.Named("authsync"),
		state:    newStateContainer(),
		metrics:  NewMetrics(cfg.Metrics),
		inflight: make(map[string]int),
		newTimer: b.newTimer,
	}
	if c.nav == nil {
		c.nav = NavigatorFunc(func(context.Context, string) error { return nil })
	}
	if c.newTimer == nil {
		c.newTimer = time.NewTimer
	}

	// -------- DURABLE SESSION CACHE --------
	if b.redis != nil {
		c.sessions = session.NewStore(
			b.redis,
			cfg.Storage.RedisPrefix+":session",
			cfg.Storage.SessionTTL,
			cfg.Storage.SlidingExpiration,
			cfg.Storage.JitterEnabled,
			cfg.Storage.JitterRange,
		)
	}

	// -------- TAB STORE --------
	var tabBackend stores.Ephemeral
	if cfg.Storage.TabBackend == "redis" {
		tabBackend = stores.NewRedisEphemeral(b.redis)
	} else {
		tabBackend = stores.NewMemoryEphemeral(cfg.Storage.TabTTL)
	}
	c.tabs = stores.NewTabStore(tabBackend, cfg.Storage.RedisPrefix+":tab", cfg.Storage.TabTTL)

	// -------- RESEND LIMITER --------
	var counter rate.Counter
	if b.redis != nil {
		counter = rate.NewRedisCounter(b.redis)
	} else {
		counter = rate.NewMemoryCounter()
	}
	c.resend = rate.New(counter, rate.Config{
		MaxAttempts: cfg.Verification.ResendMax,
		Window:      cfg.Verification.ResendWindow,
		Prefix:      cfg.Storage.RedisPrefix + ":rate:",
	})

	// -------- POLLER --------
	c.poller = poller.New(poller.Config{
		Interval:  cfg.Verification.PollInterval,
		NewTicker: b.newTicker,
		OnError:   c.onPollError,
	})

	c.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	c.flows = newFlowService(c)

	b.built = true

	return c, nil
}
