package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/artifacts/disk"
)

const fullYAML = `
server:
  addr: ":9000"
  base_url: "https://files.example.com"
  shutdown_timeout: 5s
signing:
  key: "secret"
  default_ttl: 15m
storage:
  default: local
  disks:
    local:
      driver: local
      root: /var/lib/artifacts
    s3-public:
      driver: s3
      bucket: media
      region: eu-west-1
      visibility: public
      url: "https://cdn.example.com"
database:
  driver: postgres
  dsn: "postgres://localhost/artifacts"
lock:
  driver: postgres
events:
  nats_url: "nats://localhost:4222"
owners:
  - type: user
    one: [avatar]
    many: [documents]
log:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Server.Addr != ":9000" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Signing.DefaultTTL != 15*time.Minute {
		t.Errorf("default_ttl = %v", cfg.Signing.DefaultTTL)
	}
	if len(cfg.Storage.Disks) != 2 {
		t.Errorf("expected only the configured disks, got %v", cfg.Storage.Disks)
	}
	if !disk.IsPublic(cfg.Storage, "s3-public") || disk.IsPublic(cfg.Storage, "local") {
		t.Error("unexpected disk visibility")
	}
	if len(cfg.Owners) != 1 || cfg.Owners[0].One[0] != "avatar" {
		t.Errorf("owners = %+v", cfg.Owners)
	}
	// Unset sections keep their defaults.
	if cfg.Auth.StreamRateLimit != 120 || cfg.Metrics.Namespace != "artifacts" {
		t.Errorf("defaults lost: auth=%+v metrics=%+v", cfg.Auth, cfg.Metrics)
	}
}

func TestParse_DefaultStorage(t *testing.T) {
	cfg, err := Parse([]byte("signing: {key: k}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Default != "local" || cfg.Storage.Disks["local"].Root == "" {
		t.Errorf("expected default local disk, got %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("server: [not, a, map]")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Database.Driver != DatabasePostgres {
		t.Errorf("database driver = %q", cfg.Database.Driver)
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARTIFACTS_SIGNING_KEY", "from-env")
	t.Setenv("ARTIFACTS_BASE_URL", "https://env.example.com")
	t.Setenv("ARTIFACTS_SIGNING_TTL", "2h")
	t.Setenv("ARTIFACTS_STREAM_RATE_LIMIT", "30")
	t.Setenv("ARTIFACTS_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Signing.Key != "from-env" || cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("env not applied: %+v %+v", cfg.Signing, cfg.Server)
	}
	if cfg.Signing.DefaultTTL != 2*time.Hour || cfg.Auth.StreamRateLimit != 30 {
		t.Errorf("typed env not applied: ttl=%v limit=%d", cfg.Signing.DefaultTTL, cfg.Auth.StreamRateLimit)
	}
	if got := cfg.Auth.TrustedProxies; len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.0.2.1" {
		t.Errorf("trusted proxies = %v", got)
	}

	t.Setenv("ARTIFACTS_SIGNING_TTL", "soon")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Signing.Key = "k"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.Server.BaseURL = "/app" }, "base_url"},
		{"missing signing key", func(c *Config) { c.Signing.Key = "" }, "signing.key"},
		{"unknown default disk", func(c *Config) { c.Storage.Default = "nope" }, "storage.default"},
		{"unknown driver", func(c *Config) { c.Storage.Disks["ftp"] = disk.Config{Driver: "ftp"} }, "unknown driver"},
		{"bucketless s3", func(c *Config) { c.Storage.Disks["s3"] = disk.Config{Driver: disk.DriverS3} }, "bucket"},
		{"bad visibility", func(c *Config) { c.Storage.Disks["x"] = disk.Config{Driver: disk.DriverMemory, Visibility: "world"} }, "visibility"},
		{"sqlite without dsn", func(c *Config) { c.Database.Driver = DatabaseSQLite }, "database.dsn"},
		{"postgres lock on sqlite", func(c *Config) {
			c.Database = DatabaseConfig{Driver: DatabaseSQLite, DSN: "a.db"}
			c.Lock.Driver = LockPostgres
		}, "lock.driver postgres"},
		{"redis lock without addr", func(c *Config) { c.Lock.Driver = LockRedis }, "redis_addr"},
		{"conflicting slot", func(c *Config) {
			c.Owners = []OwnerConfig{{Type: "user", One: []string{"avatar"}, Many: []string{"avatar"}}}
		}, "both one and many"},
		{"duplicate owner", func(c *Config) {
			c.Owners = []OwnerConfig{{Type: "user"}, {Type: "user"}}
		}, "duplicate owner type"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad trusted proxy", func(c *Config) { c.Auth.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} }, "trusted_proxies"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLockRedisAddr(t *testing.T) {
	cfg := Default()
	cfg.Cache.RedisAddr = "cache:6379"
	if got := cfg.LockRedisAddr(); got != "cache:6379" {
		t.Errorf("fallback = %q", got)
	}
	cfg.Lock.RedisAddr = "lock:6379"
	if got := cfg.LockRedisAddr(); got != "lock:6379" {
		t.Errorf("explicit = %q", got)
	}
}
