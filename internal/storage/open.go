package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverDynamoDB = "dynamodb"
)

// Config selects and configures one Store backend.
type Config struct {
	Driver     string
	SQLitePath string
	Postgres   DatabaseConfig
	RedisURL   string
	Redis      RedisConfig
	DynamoDB   DynamoDBConfig
}

func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case DriverSQLite:
		logger.Info("Using SQLite storage")
		return NewSQLiteStorage(ctx, cfg.SQLitePath, logger)
	case DriverPostgres:
		logger.Info("Using PostgreSQL storage")
		return NewPostgresStorage(ctx, cfg.Postgres, logger)
	case DriverRedis:
		logger.Info("Using Redis storage")
		if cfg.RedisURL != "" {
			return NewRedisStorageFromURL(ctx, cfg.RedisURL, cfg.Redis.KeyPrefix, logger)
		}
		return NewRedisStorage(ctx, cfg.Redis, logger)
	case DriverDynamoDB:
		logger.Info("Using DynamoDB storage")
		return NewDynamoDBStorage(ctx, cfg.DynamoDB, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
