package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/GoCodeAlone/artifacts/config"
	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/GoCodeAlone/artifacts/events"
	"github.com/GoCodeAlone/artifacts/lock"
	"github.com/GoCodeAlone/artifacts/store"
	"github.com/alicebob/miniredis/v2"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf).Warn("shown")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestBuildOwners(t *testing.T) {
	owners := buildOwners([]config.OwnerConfig{
		{Type: "user", One: []string{"avatar"}, Many: []string{"documents"}},
		{Type: "podcast", Many: []string{"episodes"}},
	})
	tests := []struct {
		owner, collection string
		slot              artifact.Slot
		ok                bool
	}{
		{"user", "avatar", artifact.SlotSingle, true},
		{"user", "documents", artifact.SlotMulti, true},
		{"podcast", "episodes", artifact.SlotMulti, true},
		{"podcast", "avatar", 0, false},
	}
	for _, tt := range tests {
		slot, ok := owners.Lookup(tt.owner, tt.collection)
		if ok != tt.ok || (ok && slot != tt.slot) {
			t.Errorf("Lookup(%s, %s) = %v, %v", tt.owner, tt.collection, slot, ok)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.yaml")
	if err := os.WriteFile(path, []byte("signing: {key: k}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Signing.Key != "k" {
		t.Errorf("signing key = %q", cfg.Signing.Key)
	}

	if err := os.WriteFile(path, []byte("log: {level: loud}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestOpenBackends_Defaults(t *testing.T) {
	b, err := openBackends(context.Background(), config.Default(), discardLogger())
	if err != nil {
		t.Fatalf("openBackends: %v", err)
	}
	defer b.Close()

	if _, ok := b.store.(*store.MemoryArtifactStore); !ok {
		t.Errorf("store = %T, want memory", b.store)
	}
	if _, ok := b.locker.(*lock.InMemoryLock); !ok {
		t.Errorf("locker = %T, want in-memory", b.locker)
	}
	if _, ok := b.publisher.(*events.LogPublisher); !ok {
		t.Errorf("publisher = %T, want log", b.publisher)
	}
}

func TestOpenBackends_SQLiteWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: config.DatabaseSQLite, DSN: filepath.Join(t.TempDir(), "artifacts.db"), MaxConns: 1}
	cfg.Cache.RedisAddr = mr.Addr()
	cfg.Lock.Driver = config.LockRedis

	b, err := openBackends(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("openBackends: %v", err)
	}
	defer b.Close()

	if _, ok := b.store.(*store.CachedArtifactStore); !ok {
		t.Errorf("store = %T, want cached", b.store)
	}
	if _, ok := b.locker.(*lock.RedisLock); !ok {
		t.Errorf("locker = %T, want redis", b.locker)
	}
	// Cache and lock share one client for the same address.
	if len(b.closers) != 2 {
		t.Errorf("expected sqlite and one redis closer, got %d", len(b.closers))
	}
}

func TestOpenBackends_RedisUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.RedisAddr = "127.0.0.1:1"
	if _, err := openBackends(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}

func TestReloadSettings(t *testing.T) {
	reg := disk.NewRegistry(disk.Settings{
		Default: "local",
		Disks: map[string]disk.Config{
			"local": {Driver: disk.DriverMemory},
			"media": {Driver: disk.DriverMemory},
		},
	})

	reloadSettings(reg, disk.Settings{
		Default: "extra",
		Disks: map[string]disk.Config{
			"local": {Driver: disk.DriverMemory},
			"extra": {Driver: disk.DriverMemory},
		},
	}, discardLogger())

	got := reg.Settings()
	if got.Default != "local" {
		t.Errorf("default switched to unopened disk: %q", got.Default)
	}
	if _, ok := got.Disks["extra"]; ok {
		t.Error("new disk must be ignored until restart")
	}
	if _, ok := got.Disks["media"]; !ok {
		t.Error("removed disk must be kept until restart")
	}

	reloadSettings(reg, disk.Settings{
		Default: "local",
		Disks: map[string]disk.Config{
			"local": {Driver: disk.DriverMemory},
			"media": {Driver: disk.DriverMemory, Visibility: disk.VisibilityPublic},
		},
	}, discardLogger())
	if !disk.IsPublic(reg.Settings(), "media") {
		t.Error("visibility change should take effect")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Signing.Key = "k"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Storage.Disks = map[string]disk.Config{"local": {Driver: disk.DriverLocal, Root: t.TempDir()}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, "", discardLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
