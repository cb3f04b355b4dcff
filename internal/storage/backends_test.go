package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUpsertValueQuery_Placeholders(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	pgSQL, pgArgs, err := upsertValueQuery(squirrel.Dollar, "k", []byte("v"), now)
	require.NoError(t, err)
	require.Contains(t, pgSQL, "$1")
	require.Contains(t, pgSQL, "ON CONFLICT (store_key)")
	require.Equal(t, []interface{}{"k", "v", int64(1700000000000)}, pgArgs)

	liteSQL, _, err := upsertValueQuery(squirrel.Question, "k", []byte("v"), now)
	require.NoError(t, err)
	require.NotContains(t, liteSQL, "$1")
	require.Equal(t, 3, strings.Count(liteSQL, "?"))

	selSQL, selArgs, err := selectValueQuery(squirrel.Dollar, "k")
	require.NoError(t, err)
	require.Equal(t, "SELECT store_value FROM kv_store WHERE store_key = $1", selSQL)
	require.Equal(t, []interface{}{"k"}, selArgs)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "memo", SSLMode: "disable"}
	require.Equal(t, "host=db port=5433 user=u password=p dbname=memo sslmode=disable", cfg.DSN())
}

func TestDynamoDBItemRoundTrip(t *testing.T) {
	item := newItem("ai_conversations", []byte(`[]`), time.UnixMilli(42))
	got, err := itemValue(item)
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))

	_, err = itemValue(nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = itemValue(map[string]types.AttributeValue{"Key": &types.AttributeValueMemberS{Value: "x"}})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "floppy"}, zap.NewNop())
	require.Error(t, err)

	s, err := Open(context.Background(), Config{Driver: DriverMemory}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &MemoryStorage{}, s)
}

// exerciseStore runs the shared Store contract against a live backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, key, []byte(`["a"]`)))
	require.NoError(t, s.Set(ctx, key, []byte(`["a","b"]`)))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, `["a","b"]`, string(got))
}

func TestPostgresStorage_Live(t *testing.T) {
	dsn := os.Getenv("MEMO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEMO_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStorageFromDSN(context.Background(), dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestRedisStorage_Live(t *testing.T) {
	addr := os.Getenv("MEMO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEMO_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStorage(context.Background(), RedisConfig{Addr: addr, KeyPrefix: "memo-test:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestDynamoDBStorage_Live(t *testing.T) {
	endpoint := os.Getenv("MEMO_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("MEMO_TEST_DYNAMODB_ENDPOINT not set")
	}
	s, err := NewDynamoDBStorage(context.Background(), DynamoDBConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		Table:           "memo_test_kv",
		AccessKeyID:     "dummy",
		SecretAccessKey: "dummy",
	}, zap.NewNop())
	require.NoError(t, err)
	exerciseStore(t, s)
}
