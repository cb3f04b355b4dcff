package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	sqlKV
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	return newPostgresStorage(ctx, config.DSN(), config.Host, config.DBName, logger)
}

// NewPostgresStorageFromDSN opens a store from a ready-made connection string.
func NewPostgresStorageFromDSN(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	return newPostgresStorage(ctx, dsn, "", "", logger)
}

func newPostgresStorage(ctx context.Context, dsn, host, dbName string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{sqlKV{db: db, placeholder: squirrel.Dollar}}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("host", host),
		zap.String("database", dbName))

	return storage, nil
}
