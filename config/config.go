package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/artifacts/disk"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// Lock drivers.
const (
	LockMemory   = "memory"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

// Config is the artifact server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Signing  SigningConfig  `yaml:"signing"`
	Storage  disk.Settings  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Lock     LockConfig     `yaml:"lock"`
	Events   EventsConfig   `yaml:"events"`
	Auth     AuthConfig     `yaml:"auth"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Owners   []OwnerConfig  `yaml:"owners"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is the externally visible application URL that stream and
	// signed URLs are built on.
	BaseURL         string        `yaml:"base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// SigningConfig configures URL signing.
type SigningConfig struct {
	Key        string        `yaml:"key"` //nolint:gosec // G117: config field
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DatabaseConfig selects the metadata store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// CacheConfig enables the Redis read-through metadata cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// LockConfig selects the single-slot replacement lock.
type LockConfig struct {
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// EventsConfig configures lifecycle event publishing. Events are logged
// when no NATS URL is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// AuthConfig configures the owner API.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"` //nolint:gosec // G117: config field
	StreamRateLimit int    `yaml:"stream_rate_limit"`

	// TrustedProxies lists CIDRs or addresses whose forwarding headers name
	// the client for rate limiting.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TracingConfig configures OTLP trace export. Tracing is off when
// Endpoint is empty.
type TracingConfig struct {
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
	Insecure   bool    `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Disabled  bool   `yaml:"disabled"`
}

// OwnerConfig declares the collections of one owner type.
type OwnerConfig struct {
	Type string   `yaml:"type"`
	One  []string `yaml:"one"`
	Many []string `yaml:"many"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs with a local disk and an
// in-memory store. The signing key must still be provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			BaseURL:         "http://localhost:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Signing: SigningConfig{DefaultTTL: 60 * time.Minute},
		Storage: disk.Settings{
			Default: "local",
			Disks: map[string]disk.Config{
				"local": {Driver: disk.DriverLocal, Root: "./data/private"},
			},
		},
		Database: DatabaseConfig{Driver: DatabaseMemory, MaxConns: 10},
		Cache:    CacheConfig{TTL: 5 * time.Minute},
		Lock:     LockConfig{Driver: LockMemory, TTL: time.Minute},
		Events:   EventsConfig{SubjectPrefix: "artifacts"},
		Auth:     AuthConfig{StreamRateLimit: 120},
		Tracing:  TracingConfig{SampleRate: 1.0},
		Metrics:  MetricsConfig{Namespace: "artifacts"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFromFile reads a YAML configuration over the defaults and applies
// ARTIFACTS_* environment overrides. The result is not validated.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// yaml.v3 merges into existing maps; disks are replaced, not merged.
	cfg.Storage = disk.Settings{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Storage.Disks) == 0 {
		cfg.Storage = Default().Storage
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"ARTIFACTS_ADDR":            &c.Server.Addr,
		"ARTIFACTS_BASE_URL":        &c.Server.BaseURL,
		"ARTIFACTS_SIGNING_KEY":     &c.Signing.Key,
		"ARTIFACTS_DATABASE_DRIVER": &c.Database.Driver,
		"ARTIFACTS_DATABASE_DSN":    &c.Database.DSN,
		"ARTIFACTS_REDIS_ADDR":      &c.Cache.RedisAddr,
		"ARTIFACTS_LOCK_DRIVER":     &c.Lock.Driver,
		"ARTIFACTS_NATS_URL":        &c.Events.NATSURL,
		"ARTIFACTS_JWT_SECRET":      &c.Auth.JWTSecret,
		"ARTIFACTS_OTLP_ENDPOINT":   &c.Tracing.Endpoint,
		"ARTIFACTS_LOG_LEVEL":       &c.Log.Level,
		"ARTIFACTS_LOG_FORMAT":      &c.Log.Format,
		"ARTIFACTS_DEFAULT_DISK":    &c.Storage.Default,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("ARTIFACTS_SIGNING_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ARTIFACTS_SIGNING_TTL: %w", err)
		}
		c.Signing.DefaultTTL = d
	}
	if v, ok := os.LookupEnv("ARTIFACTS_STREAM_RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ARTIFACTS_STREAM_RATE_LIMIT: %w", err)
		}
		c.Auth.StreamRateLimit = n
	}
	if v, ok := os.LookupEnv("ARTIFACTS_TRUSTED_PROXIES"); ok {
		c.Auth.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Auth.TrustedProxies = append(c.Auth.TrustedProxies, p)
			}
		}
	}
	return nil
}

// LockRedisAddr is the Redis address the redis lock driver connects to,
// falling back to the cache's.
func (c *Config) LockRedisAddr() string {
	if c.Lock.RedisAddr != "" {
		return c.Lock.RedisAddr
	}
	return c.Cache.RedisAddr
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("server.base_url %q must be an absolute URL", c.Server.BaseURL)
	}
	if c.Signing.Key == "" {
		add("signing.key is required")
	}
	if c.Signing.DefaultTTL <= 0 {
		add("signing.default_ttl must be positive")
	}

	if len(c.Storage.Disks) == 0 {
		add("storage.disks must declare at least one disk")
	} else if _, ok := c.Storage.Disks[c.Storage.Default]; !ok {
		add("storage.default %q is not a configured disk", c.Storage.Default)
	}
	for name, d := range c.Storage.Disks {
		switch d.Driver {
		case disk.DriverLocal, "":
			if d.Root == "" {
				add("storage.disks.%s: root is required", name)
			}
		case disk.DriverS3, disk.DriverGCS:
			if d.Bucket == "" {
				add("storage.disks.%s: bucket is required", name)
			}
		case disk.DriverAzure:
			if d.Account == "" || d.Container == "" {
				add("storage.disks.%s: account and container are required", name)
			}
		case disk.DriverMemory:
		default:
			add("storage.disks.%s: unknown driver %q", name, d.Driver)
		}
		if d.Visibility != "" && d.Visibility != disk.VisibilityPublic && d.Visibility != disk.VisibilityPrivate {
			add("storage.disks.%s: visibility must be public or private", name)
		}
	}

	switch c.Database.Driver {
	case DatabaseMemory:
	case DatabaseSQLite, DatabasePostgres:
		if c.Database.DSN == "" {
			add("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		add("database.driver %q must be memory, sqlite or postgres", c.Database.Driver)
	}

	switch c.Lock.Driver {
	case LockMemory:
	case LockPostgres:
		if c.Database.Driver != DatabasePostgres {
			add("lock.driver postgres requires database.driver postgres")
		}
	case LockRedis:
		if c.LockRedisAddr() == "" {
			add("lock.driver redis requires lock.redis_addr or cache.redis_addr")
		}
	default:
		add("lock.driver %q must be memory, postgres or redis", c.Lock.Driver)
	}

	for _, p := range c.Auth.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			add("auth.trusted_proxies: %q is not a CIDR or address", p)
		}
	}

	seen := make(map[string]bool, len(c.Owners))
	for i, o := range c.Owners {
		if o.Type == "" {
			add("owners[%d]: type is required", i)
			continue
		}
		if seen[o.Type] {
			add("owners[%d]: duplicate owner type %q", i, o.Type)
		}
		seen[o.Type] = true
		single := make(map[string]bool, len(o.One))
		for _, name := range o.One {
			single[name] = true
		}
		for _, name := range o.Many {
			if single[name] {
				add("owners[%d]: collection %q is declared both one and many", i, name)
			}
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format %q must be text or json", c.Log.Format)
	}
	return errors.Join(errs...)
}
