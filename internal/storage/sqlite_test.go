package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-assistant/internal/models"
	"go.uber.org/zap"
)

func TestSQLiteStorage_GetSet(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "memory.db")

	s, err := NewSQLiteStorage(ctx, dbPath, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte(`["one"]`)))
	require.NoError(t, s.Set(ctx, "k", []byte(`["one","two"]`)))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `["one","two"]`, string(got))

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestSQLiteStorage_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	first, err := NewSQLiteStorage(ctx, dbPath, zap.NewNop())
	require.NoError(t, err)

	entries := make([]models.ConversationEntry, 0, 3)
	for i, msg := range []string{"a", "b", "c"} {
		entries = append(entries, models.ConversationEntry{
			ID:          msg,
			UserMessage: "user " + msg,
			AIResponse:  "ai " + msg,
			Timestamp:   ts.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, NewCollections(first, "").SetConversations(ctx, entries))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStorage(ctx, dbPath, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	got, err := NewCollections(second, "").Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range entries {
		require.Equal(t, entries[i].ID, got[i].ID)
		require.Equal(t, entries[i].UserMessage, got[i].UserMessage)
		require.Equal(t, entries[i].AIResponse, got[i].AIResponse)
		require.True(t, entries[i].Timestamp.Equal(got[i].Timestamp))
	}
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStorage(context.Background(), " ", zap.NewNop())
	require.Error(t, err)
}
