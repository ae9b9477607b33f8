package disk

import (
	"context"
	"fmt"
	"log/slog"
)

// Open constructs the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Disk, error) {
	switch cfg.Driver {
	case DriverLocal, "":
		return NewLocalDisk(cfg.Root)
	case DriverMemory:
		return NewMemoryDisk(), nil
	case DriverS3:
		return NewS3DiskFromConfig(ctx, cfg)
	case DriverGCS:
		return NewGCSDiskFromConfig(ctx, cfg)
	case DriverAzure:
		return NewAzureDiskFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported disk driver %q", cfg.Driver)
	}
}

// OpenAll opens every configured disk and returns a populated Registry.
func OpenAll(ctx context.Context, settings Settings, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := settings.Disks[settings.Default]; !ok {
		return nil, fmt.Errorf("default disk %q is not configured", settings.Default)
	}

	reg := NewRegistry(settings)
	for name, cfg := range settings.Disks {
		d, err := Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open disk %q: %w", name, err)
		}
		reg.Register(name, d)
		logger.Info("disk opened", "disk", name, "driver", cfg.Driver,
			"public", IsPublic(settings, name))
	}
	return reg, nil
}
