// Package config loads and validates fleet service configuration.
// Values come from (lowest to highest precedence) built-in defaults, an
// optional YAML/JSON file (--config), and <PREFIX>_<DOTTED_KEY> environment
// variables, matching spec.md §6's override convention.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every dotted config key to form its env var name,
// e.g. pool.max_instances -> CHROMEFLEET_POOL_MAX_INSTANCES.
const EnvPrefix = "CHROMEFLEET"

// Upper bounds that prevent a misconfigured deployment from exhausting the host.
const (
	maxPoolInstances = 64
	maxTimeout       = 10 * time.Minute
	maxRateLimitRPM  = 10000
	minAuthTokenLen  = 16
)

// PoolConfig mirrors spec.md §4.5's construction parameters exactly.
type PoolConfig struct {
	MinInstances               int           `yaml:"min_instances"`
	MaxInstances               int           `yaml:"max_instances"`
	WarmInstances               int           `yaml:"warm_instances"`
	InstanceTTL                 time.Duration `yaml:"instance_ttl"`
	HealthCheckInterval          time.Duration `yaml:"health_check_interval"`
	AcquireTimeout               time.Duration `yaml:"acquire_timeout"`
}

// BrowserConfig configures default launch options (C1).
type BrowserConfig struct {
	Headless         bool   `yaml:"headless"`
	BrowserPath      string `yaml:"browser_path"`
	AntiDetect       bool   `yaml:"anti_detect"`
	IgnoreCertErrors bool   `yaml:"ignore_cert_errors"`
	ProxyURL         string `yaml:"proxy_url"`
}

// StoreConfig configures the Profile Store (C2) and Session Store (C3) roots.
type StoreConfig struct {
	ProfilesRoot string `yaml:"profiles_root"`
	SessionsRoot string `yaml:"sessions_root"`
}

// AuthConfig configures C9's authentication middleware.
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BearerTokens  []string      `yaml:"bearer_tokens"`
	HMACSecret    string        `yaml:"hmac_secret"`
	HMACMaxSkew   time.Duration `yaml:"hmac_max_skew"`
}

// RateLimitConfig configures C9's rate-limiting middleware.
type RateLimitConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Algorithm    string `yaml:"algorithm"` // "sliding_window" or "leaky_bucket"
	MaxRequests  int    `yaml:"max_requests"`
	WindowSeconds int   `yaml:"window_seconds"` // sliding_window
	LeakRate     float64 `yaml:"leak_rate"`      // leaky_bucket: tokens/sec
	Capacity     float64 `yaml:"capacity"`       // leaky_bucket
	TrustProxy   bool   `yaml:"trust_proxy"`
}

// Config holds all fleet service configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	MetricsAddr string `yaml:"metrics_addr"`

	Pool       PoolConfig      `yaml:"pool"`
	Browser    BrowserConfig   `yaml:"browser"`
	Store      StoreConfig     `yaml:"store"`
	Auth       AuthConfig      `yaml:"auth"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// Default returns built-in defaults, before any file or environment overrides.
func Default() *Config {
	return &Config{
		Host:     "127.0.0.1",
		Port:     8787,
		LogLevel: "info",

		MetricsAddr: ":9090",

		Pool: PoolConfig{
			MinInstances:        0,
			MaxInstances:        4,
			WarmInstances:       1,
			InstanceTTL:         30 * time.Minute,
			HealthCheckInterval: 1 * time.Minute,
			AcquireTimeout:      30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:   true,
			AntiDetect: true,
		},
		Store: StoreConfig{
			ProfilesRoot: "./data/profiles",
			SessionsRoot: "./data/sessions",
		},
		Auth: AuthConfig{
			HMACMaxSkew: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Algorithm:     "sliding_window",
			MaxRequests:   60,
			WindowSeconds: 60,
			LeakRate:      1,
			Capacity:      60,
		},
	}
}

// Load builds a Config from defaults, an optional file, then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	cfg.Validate()
	return cfg, nil
}

// applyEnvOverrides mirrors the teacher's getEnv* helpers, generalized to the
// <PREFIX>_<DOTTED_KEY> convention spec.md §6 names. Each key below is
// parsed by its field's type: integers with strconv.Atoi, booleans with
// strconv.ParseBool, durations with time.ParseDuration, lists as
// comma-separated values, and everything else as a plain string. Values are
// not decoded as JSON.
func applyEnvOverrides(cfg *Config) {
	cfg.Host = envString("HOST", cfg.Host)
	cfg.Port = envInt("PORT", cfg.Port)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)

	cfg.Pool.MinInstances = envInt("POOL_MIN_INSTANCES", cfg.Pool.MinInstances)
	cfg.Pool.MaxInstances = envInt("POOL_MAX_INSTANCES", cfg.Pool.MaxInstances)
	cfg.Pool.WarmInstances = envInt("POOL_WARM_INSTANCES", cfg.Pool.WarmInstances)
	cfg.Pool.InstanceTTL = envDuration("POOL_INSTANCE_TTL", cfg.Pool.InstanceTTL)
	cfg.Pool.HealthCheckInterval = envDuration("POOL_HEALTH_CHECK_INTERVAL", cfg.Pool.HealthCheckInterval)
	cfg.Pool.AcquireTimeout = envDuration("POOL_ACQUIRE_TIMEOUT", cfg.Pool.AcquireTimeout)

	cfg.Browser.Headless = envBool("BROWSER_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.BrowserPath = envString("BROWSER_PATH", cfg.Browser.BrowserPath)
	cfg.Browser.AntiDetect = envBool("BROWSER_ANTI_DETECT", cfg.Browser.AntiDetect)
	cfg.Browser.IgnoreCertErrors = envBool("BROWSER_IGNORE_CERT_ERRORS", cfg.Browser.IgnoreCertErrors)
	cfg.Browser.ProxyURL = envString("BROWSER_PROXY_URL", cfg.Browser.ProxyURL)

	cfg.Store.ProfilesRoot = envString("STORE_PROFILES_ROOT", cfg.Store.ProfilesRoot)
	cfg.Store.SessionsRoot = envString("STORE_SESSIONS_ROOT", cfg.Store.SessionsRoot)

	cfg.Auth.Enabled = envBool("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.BearerTokens = envStringSlice("AUTH_BEARER_TOKENS", cfg.Auth.BearerTokens)
	cfg.Auth.HMACSecret = envString("AUTH_HMAC_SECRET", cfg.Auth.HMACSecret)
	cfg.Auth.HMACMaxSkew = envDuration("AUTH_HMAC_MAX_SKEW", cfg.Auth.HMACMaxSkew)

	cfg.RateLimit.Enabled = envBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Algorithm = envString("RATE_LIMIT_ALGORITHM", cfg.RateLimit.Algorithm)
	cfg.RateLimit.MaxRequests = envInt("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.WindowSeconds = envInt("RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.WindowSeconds)
	cfg.RateLimit.TrustProxy = envBool("RATE_LIMIT_TRUST_PROXY", cfg.RateLimit.TrustProxy)
}

// Validate clamps out-of-range values and logs a warning for each, in the
// teacher's style of never hard-failing on a bad number.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("invalid port, using default 8787")
		c.Port = 8787
	}

	if c.Browser.BrowserPath != "" && strings.Contains(c.Browser.BrowserPath, "..") {
		log.Error().Str("path", c.Browser.BrowserPath).Msg("browser_path contains path traversal sequence, ignoring")
		c.Browser.BrowserPath = ""
	}

	if c.Pool.MinInstances < 0 {
		c.Pool.MinInstances = 0
	}
	if c.Pool.MaxInstances < 1 {
		log.Warn().Int("max_instances", c.Pool.MaxInstances).Msg("invalid max_instances, using 1")
		c.Pool.MaxInstances = 1
	} else if c.Pool.MaxInstances > maxPoolInstances {
		log.Warn().Int("max_instances", c.Pool.MaxInstances).Msg("max_instances too large, capping")
		c.Pool.MaxInstances = maxPoolInstances
	}
	if c.Pool.MinInstances > c.Pool.MaxInstances {
		log.Warn().
			Int("min_instances", c.Pool.MinInstances).
			Int("max_instances", c.Pool.MaxInstances).
			Msg("min_instances exceeds max_instances, clamping min to max")
		c.Pool.MinInstances = c.Pool.MaxInstances
	}
	if c.Pool.WarmInstances > c.Pool.MaxInstances {
		log.Warn().Msg("warm_instances exceeds max_instances, clamping")
		c.Pool.WarmInstances = c.Pool.MaxInstances
	}
	if c.Pool.WarmInstances < 0 {
		c.Pool.WarmInstances = 0
	}

	if c.Pool.InstanceTTL < time.Minute {
		log.Warn().Dur("instance_ttl", c.Pool.InstanceTTL).Msg("instance_ttl too short, using 30m")
		c.Pool.InstanceTTL = 30 * time.Minute
	}
	if c.Pool.HealthCheckInterval < time.Second {
		log.Warn().Dur("health_check_interval", c.Pool.HealthCheckInterval).Msg("health_check_interval too short, using 1m")
		c.Pool.HealthCheckInterval = time.Minute
	}
	if c.Pool.AcquireTimeout <= 0 || c.Pool.AcquireTimeout > maxTimeout {
		log.Warn().Dur("acquire_timeout", c.Pool.AcquireTimeout).Msg("acquire_timeout out of range, using 30s")
		c.Pool.AcquireTimeout = 30 * time.Second
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("log_level", c.LogLevel).Msg("invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Algorithm {
		case "sliding_window", "leaky_bucket":
		default:
			log.Warn().Str("algorithm", c.RateLimit.Algorithm).Msg("unknown rate limit algorithm, using sliding_window")
			c.RateLimit.Algorithm = "sliding_window"
		}
		if c.RateLimit.MaxRequests < 1 {
			c.RateLimit.MaxRequests = 60
		} else if c.RateLimit.MaxRequests > maxRateLimitRPM {
			log.Warn().Int("max_requests", c.RateLimit.MaxRequests).Msg("rate limit too high, capping")
			c.RateLimit.MaxRequests = maxRateLimitRPM
		}
		if c.RateLimit.WindowSeconds < 1 {
			c.RateLimit.WindowSeconds = 60
		}
		if c.RateLimit.Capacity <= 0 {
			c.RateLimit.Capacity = float64(c.RateLimit.MaxRequests)
		}
		if c.RateLimit.LeakRate <= 0 {
			c.RateLimit.LeakRate = c.RateLimit.Capacity / float64(max(c.RateLimit.WindowSeconds, 1))
		}
	}

	if c.Auth.Enabled {
		if len(c.Auth.BearerTokens) == 0 && c.Auth.HMACSecret == "" {
			log.Error().Msg("auth.enabled is true but no bearer_tokens or hmac_secret configured - authentication will always fail")
		}
		for _, tok := range c.Auth.BearerTokens {
			if len(tok) < minAuthTokenLen {
				log.Warn().Int("length", len(tok)).Msg("bearer token shorter than recommended minimum length")
			}
		}
		if c.Auth.HMACMaxSkew <= 0 {
			c.Auth.HMACMaxSkew = 5 * time.Minute
		}
	}

	if c.Browser.ProxyURL != "" && strings.HasPrefix(strings.ToLower(c.Browser.ProxyURL), "http://") {
		log.Warn().Msg("proxy configured over plain HTTP - credentials may be intercepted")
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func envKey(dotted string) string {
	return EnvPrefix + "_" + strings.ToUpper(dotted)
}

func envString(dotted, defaultValue string) string {
	if v, ok := os.LookupEnv(envKey(dotted)); ok && v != "" {
		return v
	}
	return defaultValue
}

func envInt(dotted string, defaultValue int) int {
	key := envKey(dotted)
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

func envBool(dotted string, defaultValue bool) bool {
	key := envKey(dotted)
	if v, ok := os.LookupEnv(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func envDuration(dotted string, defaultValue time.Duration) time.Duration {
	key := envKey(dotted)
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

func envStringSlice(dotted string, defaultValue []string) []string {
	key := envKey(dotted)
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
