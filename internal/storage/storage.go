package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Store.Get when the key was never written.
	ErrNotFound = errors.New("storage: key not found")
	// ErrCorrupt marks a stored value that exists but does not decode to the expected shape.
	ErrCorrupt = errors.New("storage: corrupt value")
)

// Store is a durable key-value store holding whole serialized collections.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

const (
	ConversationsKey = "ai_conversations"
	KnowledgeKey     = "ai_knowledge_base"

	// CorruptSuffix marks the backup of a log that failed to decode.
	CorruptSuffix = ".corrupt"
)
