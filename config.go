package authsync

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full client configuration. Build it with [DefaultConfig],
// adjust fields, then pass it to [Builder.WithConfig].
type Config struct {
	Environment  string             `yaml:"environment"`
	Identity     IdentityConfig     `yaml:"identity"`
	Registration RegistrationConfig `yaml:"registration"`
	Verification VerificationConfig `yaml:"verification"`
	OAuth        OAuthConfig        `yaml:"oauth"`
	Routes       RoutesConfig       `yaml:"routes"`
	Storage      StorageConfig      `yaml:"storage"`
	DevSession   DevSessionConfig   `yaml:"dev_session"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig controls how provider identities are interpreted.
type IdentityConfig struct {
	// TrustedProviders are sign-in providers whose identities count as
	// email-verified even when the provider's own flag is false.
	TrustedProviders []ProviderKind `yaml:"trusted_providers"`
}

// Trusts reports whether any of kinds is a trusted provider.
func (c IdentityConfig) Trusts(kinds ...ProviderKind) bool {
	for _, k := range kinds {
		for _, t := range c.TrustedProviders {
			if k == t {
				return true
			}
		}
	}
	return false
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig bounds conflict-recovery retries.
type RegistrationConfig struct {
	// MaxAttempts is the total number of registration attempts made by
	// RegisterWithRetry, including the first.
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls the email verification poller.
type VerificationConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	NotifyBackend bool          `yaml:"notify_backend"`

	// ResendMax caps verification resends per identity within ResendWindow.
	// Zero disables the cap.
	ResendMax    int           `yaml:"resend_max"`
	ResendWindow time.Duration `yaml:"resend_window"`
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig controls OAuth sign-in.
type OAuthConfig struct {
	// AutoProvision creates a local user on first OAuth sign-in. When false,
	// first sign-in routes to the registration screen instead.
	AutoProvision bool `yaml:"auto_provision"`
	// RedirectFallback enables the full-page redirect when interactive
	// sign-in fails.
	RedirectFallback bool `yaml:"redirect_fallback"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the navigation targets used by the client.
type RoutesConfig struct {
	Home        string `yaml:"home"`
	Login       string `yaml:"login"`
	Register    string `yaml:"register"`
	VerifyEmail string `yaml:"verify_email"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig configures the durable session cache and tab-scoped store.
type StorageConfig struct {
	RedisPrefix       string        `yaml:"redis_prefix"`
	SessionKey        string        `yaml:"session_key"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	SlidingExpiration bool          `yaml:"sliding_expiration"`
	JitterEnabled     bool          `yaml:"jitter_enabled"`
	JitterRange       time.Duration `yaml:"jitter_range"`
	// TabBackend selects the tab-scoped store: "memory" or "redis".
	TabBackend string        `yaml:"tab_backend"`
	TabTTL     time.Duration `yaml:"tab_ttl"`
}

/*
====================================
DEV SESSION CONFIG
====================================
*/

// DevSessionConfig enables the locally trusted development session.
// Rejected by Validate in production.
type DevSessionConfig struct {
	Enabled bool `yaml:"enabled"`
}

/*
====================================
AUDIT / METRICS / LOGGING CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LoggingConfig configures the zap logger used by the CLI.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration that passes Validate.
func DefaultConfig() Config {
	return Config{
		Environment: EnvDevelopment,
		Identity: IdentityConfig{
			TrustedProviders: []ProviderKind{ProviderGoogle},
		},
		Registration: RegistrationConfig{
			MaxAttempts: 2,
			RetryDelay:  time.Second,
		},
		Verification: VerificationConfig{
			PollInterval:  3 * time.Second,
			NotifyBackend: true,
			ResendMax:     3,
			ResendWindow:  10 * time.Minute,
		},
		OAuth: OAuthConfig{
			AutoProvision:    true,
			RedirectFallback: true,
		},
		Routes: RoutesConfig{
			Home:        "/",
			Login:       "/login",
			Register:    "/register",
			VerifyEmail: "/verify-email",
		},
		Storage: StorageConfig{
			RedisPrefix:       "authsync",
			SessionKey:        "current",
			SessionTTL:        7 * 24 * time.Hour,
			SlidingExpiration: true,
			JitterEnabled:     true,
			JitterRange:       30 * time.Second,
			TabBackend:        "memory",
			TabTTL:            30 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Identity.TrustedProviders != nil {
		out.Identity.TrustedProviders = append([]ProviderKind(nil), cfg.Identity.TrustedProviders...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if c.Registration.MaxAttempts < 1 || c.Registration.MaxAttempts > 5 {
		return errors.New("Registration MaxAttempts must be in [1,5]")
	}
	if c.Registration.RetryDelay < 0 || c.Registration.RetryDelay > time.Minute {
		return errors.New("Registration RetryDelay must be in [0,1m]")
	}

	if c.Verification.PollInterval < 100*time.Millisecond {
		return errors.New("Verification PollInterval must be >= 100ms")
	}
	if c.Verification.ResendMax < 0 {
		return errors.New("Verification ResendMax must be >= 0")
	}
	if c.Verification.ResendMax > 0 && c.Verification.ResendWindow < time.Second {
		return errors.New("Verification ResendWindow must be >= 1s when ResendMax is set")
	}

	for _, p := range c.Identity.TrustedProviders {
		if p == ProviderPassword {
			return errors.New("password provider cannot be trusted as verified")
		}
		if strings.TrimSpace(string(p)) == "" {
			return errors.New("TrustedProviders contains empty provider")
		}
	}

	for name, route := range map[string]string{
		"Home":        c.Routes.Home,
		"Login":       c.Routes.Login,
		"Register":    c.Routes.Register,
		"VerifyEmail": c.Routes.VerifyEmail,
	} {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("Routes %s must be an absolute path", name)
		}
	}

	if c.Storage.RedisPrefix == "" {
		return errors.New("Storage RedisPrefix must not be empty")
	}
	if c.Storage.SessionKey == "" {
		return errors.New("Storage SessionKey must not be empty")
	}
	if c.Storage.SessionTTL < 0 {
		return errors.New("Storage SessionTTL must be >= 0")
	}
	if c.Storage.JitterEnabled && c.Storage.SessionTTL > 0 {
		if c.Storage.JitterRange <= 0 || c.Storage.JitterRange*2 >= c.Storage.SessionTTL {
			return errors.New("Storage JitterRange must be > 0 and smaller than half of SessionTTL")
		}
	}
	if c.Storage.TabBackend != "memory" && c.Storage.TabBackend != "redis" {
		return errors.New("Storage TabBackend must be memory or redis")
	}
	if c.Storage.TabTTL <= 0 {
		return errors.New("Storage TabTTL must be > 0")
	}

	if c.DevSession.Enabled && c.Environment == EnvProduction {
		return ErrDevSessionInProduction
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

/*
====================================
LOADING
====================================
*/

// LoadConfig reads a YAML file over DefaultConfig and then applies
// AUTHSYNC_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays AUTHSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := getEnvStr("AUTHSYNC_ENV"); ok {
		c.Environment = strings.ToLower(v)
	}
	if v, ok := getEnvStr("AUTHSYNC_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}

	if v, ok := getEnvCSV("AUTHSYNC_TRUSTED_PROVIDERS"); ok {
		kinds := make([]ProviderKind, 0, len(v))
		for _, p := range v {
			kinds = append(kinds, ProviderKind(p))
		}
		c.Identity.TrustedProviders = kinds
	}

	if v, ok := getEnvInt("AUTHSYNC_REGISTRATION_MAX_ATTEMPTS"); ok {
		c.Registration.MaxAttempts = v
	}
	if v, ok := getEnvDur("AUTHSYNC_REGISTRATION_RETRY_DELAY"); ok {
		c.Registration.RetryDelay = v
	}
	if v, ok := getEnvDur("AUTHSYNC_POLL_INTERVAL"); ok {
		c.Verification.PollInterval = v
	}
	if v, ok := getEnvInt("AUTHSYNC_RESEND_MAX"); ok {
		c.Verification.ResendMax = v
	}
	if v, ok := getEnvBool("AUTHSYNC_OAUTH_AUTO_PROVISION"); ok {
		c.OAuth.AutoProvision = v
	}
	if v, ok := getEnvStr("AUTHSYNC_REDIS_PREFIX"); ok {
		c.Storage.RedisPrefix = v
	}
	if v, ok := getEnvStr("AUTHSYNC_TAB_BACKEND"); ok {
		c.Storage.TabBackend = strings.ToLower(v)
	}
	if v, ok := getEnvDur("AUTHSYNC_SESSION_TTL"); ok {
		c.Storage.SessionTTL = v
	}
	if v, ok := getEnvBool("AUTHSYNC_DEV_SESSION"); ok {
		c.DevSession.Enabled = v
	}
	if v, ok := getEnvBool("AUTHSYNC_AUDIT_ENABLED"); ok {
		c.Audit.Enabled = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}
