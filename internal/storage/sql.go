package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
)

//go:embed migrations.sql
var migrations embed.FS

const kvTable = "kv_store"

// sqlKV implements Store over any database/sql driver that understands the
// kv_store schema and INSERT ... ON CONFLICT upserts (PostgreSQL, SQLite).
type sqlKV struct {
	db          *sql.DB
	placeholder squirrel.PlaceholderFormat
}

func (s *sqlKV) initializeSchema(ctx context.Context) error {
	// Read migrations file
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func selectValueQuery(placeholder squirrel.PlaceholderFormat, key string) (string, []interface{}, error) {
	return squirrel.Select("store_value").
		From(kvTable).
		Where(squirrel.Eq{"store_key": key}).
		PlaceholderFormat(placeholder).
		ToSql()
}

func upsertValueQuery(placeholder squirrel.PlaceholderFormat, key string, value []byte, now time.Time) (string, []interface{}, error) {
	return squirrel.Insert(kvTable).
		Columns("store_key", "store_value", "updated_at").
		Values(key, string(value), now.UnixMilli()).
		Suffix("ON CONFLICT (store_key) DO UPDATE SET store_value = excluded.store_value, updated_at = excluded.updated_at").
		PlaceholderFormat(placeholder).
		ToSql()
}

func (s *sqlKV) Get(ctx context.Context, key string) ([]byte, error) {
	query, args, err := selectValueQuery(s.placeholder, key)
	if err != nil {
		return nil, err
	}

	var value string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading key %q: %w", key, err)
	}
	return []byte(value), nil
}

func (s *sqlKV) Set(ctx context.Context, key string, value []byte) error {
	query, args, err := upsertValueQuery(s.placeholder, key, value, time.Now())
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error writing key %q: %w", key, err)
	}
	return nil
}

func (s *sqlKV) Close() error {
	return s.db.Close()
}
