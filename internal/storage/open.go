package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/config"
)

// Open builds the store selected by cfg.Driver and verifies it is reachable.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	var store Store
	switch cfg.Driver {
	case "", "memory":
		store = NewMemoryStore()
	case "redis":
		rs, err := NewRedisStoreFromURL(cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		store = rs
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("storage %s unreachable: %w", cfg.Driver, err)
	}

	if logger != nil {
		logger.Info("storage ready", zap.String("driver", cfg.Driver))
	}
	return store, nil
}
