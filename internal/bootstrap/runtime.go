// Package bootstrap opens the process-wide resources the server and the
// tooling binaries share.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"betelconnect/internal/cache"
	"betelconnect/internal/config"
	"betelconnect/internal/database"
	"betelconnect/internal/observability"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// RequireRedis fails startup when Redis cannot be reached instead of
	// running single-process without relay, tickets or rate limits.
	RequireRedis bool
}

// InitRuntime connects to the database and Redis. A nil Redis client is
// returned when Redis is unreachable and not required.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		if opts.RequireRedis {
			closeDB(db)
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		slog.WarnContext(ctx, "redis unavailable, continuing without relay",
			slog.String("addr", cfg.RedisURL), slog.String("error", err.Error()))
		rdb = nil
	}

	return db, rdb, nil
}

// InitTracing installs the tracer provider described by cfg.
func InitTracing(ctx context.Context, cfg *config.Config, serviceName string) (func(context.Context) error, error) {
	return observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRatio:  cfg.TracingSampleRatio,
	})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
