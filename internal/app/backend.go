package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ops/internal/consistency"
	"github.com/odyssey-erp/odyssey-ops/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ops/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ops/internal/rbac"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
	"github.com/odyssey-erp/odyssey-ops/internal/store/postgres"
)

// Backend bundles the storage side of the engine for the configured driver.
type Backend struct {
	Repository  store.Repository
	Janitor     store.Janitor
	Permissions rbac.PermissionSource
	Lock        consistency.MaintenanceLock
	// Redis is nil when the server could not reach Redis; queue features are then off.
	Redis *redis.Client

	closers []func()
}

// Close releases every resource held by the backend in reverse order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// OpenBackend connects the store selected by STORE_DRIVER. Redis is required for the
// postgres driver, which shares the maintenance lock across processes; the memory driver
// uses an in-process lock and treats Redis as optional.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	switch {
	case err == nil:
		b.Redis = redisClient
		b.closers = append(b.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	case cfg.StoreDriver == DriverPostgres:
		return nil, fmt.Errorf("app: connect redis: %w", err)
	case errors.Is(err, cache.ErrNotConfigured):
		logger.Info("redis not configured; queue features disabled")
	default:
		logger.Warn("redis unavailable; queue features disabled", slog.Any("error", err))
	}

	switch cfg.StoreDriver {
	case DriverMemory:
		st := memory.New()
		if cfg.StoreSeedFile != "" {
			if err := LoadSeedFile(cfg.StoreSeedFile, st); err != nil {
				b.Close()
				return nil, err
			}
		}
		b.Repository, b.Janitor, b.Permissions = st, st, st
		b.Lock = cache.NewLocalLock()
		logger.Warn("using in-memory store; data is lost on restart")
	case DriverPostgres:
		if cfg.StoreAutoSchema {
			if err := db.ApplySchema(cfg.PGDSN); err != nil {
				b.Close()
				return nil, err
			}
			logger.Info("schema applied")
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, StatementTimeout: cfg.PGStatementTimeout})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		repo := postgres.NewRepository(pool, cfg.TxMaxAttempts)
		b.Repository, b.Janitor, b.Permissions = repo, repo, repo
		b.Lock = cache.NewRedisLock(redisClient, shared.MaintenanceLockKey, cfg.MaintenanceLockTTL)
	default:
		b.Close()
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}
	return b, nil
}
