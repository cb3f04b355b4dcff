package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStorage persists collections in a single SQLite file. It is the
// default durable driver: no server, CGo-free.
type SQLiteStorage struct {
	sqlKV
	path string
}

func NewSQLiteStorage(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite storage: empty path")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps read-modify-write cycles from interleaving on the file
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &SQLiteStorage{
		sqlKV: sqlKV{db: db, placeholder: squirrel.Question},
		path:  path,
	}
	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("SQLite storage opened", zap.String("path", path))
	return storage, nil
}

func (s *SQLiteStorage) Path() string {
	return s.path
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}
