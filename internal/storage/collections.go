package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xaenox/memo-assistant/internal/models"
)

// Collections is the typed view over a Store for one namespace.
//
// Reads never fail hard: an absent key yields an empty collection and a nil
// error. A corrupt value yields whatever entries could still be decoded and
// an error wrapping ErrCorrupt so the caller can log it and carry on.
type Collections struct {
	store     Store
	namespace string
}

func NewCollections(store Store, namespace string) *Collections {
	return &Collections{store: store, namespace: namespace}
}

func (c *Collections) Namespace() string {
	return c.namespace
}

func (c *Collections) key(base string) string {
	if c.namespace == "" {
		return base
	}
	return c.namespace + ":" + base
}

func (c *Collections) Conversations(ctx context.Context) ([]models.ConversationEntry, error) {
	raw, err := c.store.Get(ctx, c.key(ConversationsKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []models.ConversationEntry{}, nil
		}
		return []models.ConversationEntry{}, fmt.Errorf("failed to read conversations: %w", err)
	}

	return DecodeConversations(raw)
}

// QuarantineConversations copies the raw stored log to "<key>.corrupt"
// so it survives the rewrite that follows a corrupt read.
func (c *Collections) QuarantineConversations(ctx context.Context) error {
	key := c.key(ConversationsKey)
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read conversations: %w", err)
	}
	if err := c.store.Set(ctx, key+CorruptSuffix, raw); err != nil {
		return fmt.Errorf("failed to back up corrupt conversations: %w", err)
	}
	return nil
}

func (c *Collections) SetConversations(ctx context.Context, entries []models.ConversationEntry) error {
	if entries == nil {
		entries = []models.ConversationEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}
	if err := c.store.Set(ctx, c.key(ConversationsKey), raw); err != nil {
		return fmt.Errorf("failed to write conversations: %w", err)
	}
	return nil
}

func (c *Collections) Knowledge(ctx context.Context) ([]string, error) {
	raw, err := c.store.Get(ctx, c.key(KnowledgeKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return []string{}, fmt.Errorf("failed to read knowledge: %w", err)
	}

	items, err := DecodeKnowledge(raw)
	if err != nil {
		return []string{}, err
	}
	return items, nil
}

func (c *Collections) SetKnowledge(ctx context.Context, items []string) error {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode knowledge: %w", err)
	}
	if err := c.store.Set(ctx, c.key(KnowledgeKey), raw); err != nil {
		return fmt.Errorf("failed to write knowledge: %w", err)
	}
	return nil
}

// DecodeConversations parses a stored conversation log and checks every
// entry. Entries that fail the checks are skipped; the valid ones are
// returned together with an error wrapping ErrCorrupt.
func DecodeConversations(raw []byte) ([]models.ConversationEntry, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []models.ConversationEntry{}, fmt.Errorf("%w: conversations: %v", ErrCorrupt, err)
	}

	entries := make([]models.ConversationEntry, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	var problems []error
	for i, item := range items {
		var e models.ConversationEntry
		if err := json.Unmarshal(item, &e); err != nil {
			problems = append(problems, fmt.Errorf("conversations[%d]: %v", i, err))
			continue
		}
		if err := checkEntry(e, seen); err != nil {
			problems = append(problems, fmt.Errorf("conversations[%d]: %w", i, err))
			continue
		}
		seen[e.ID] = struct{}{}
		entries = append(entries, e)
	}

	if len(problems) > 0 {
		return entries, fmt.Errorf("%w: skipped %d of %d entries: %w",
			ErrCorrupt, len(problems), len(items), errors.Join(problems...))
	}
	return entries, nil
}

func checkEntry(e models.ConversationEntry, seen map[string]struct{}) error {
	if e.ID == "" {
		return errors.New("missing id")
	}
	if _, dup := seen[e.ID]; dup {
		return fmt.Errorf("duplicate id %q", e.ID)
	}
	if e.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	if e.Feedback != "" && !e.Feedback.Valid() {
		return fmt.Errorf("unknown feedback %q", e.Feedback)
	}
	return nil
}

// DecodeKnowledge parses a stored knowledge list.
func DecodeKnowledge(raw []byte) ([]string, error) {
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: knowledge: %v", ErrCorrupt, err)
	}
	if items == nil {
		return []string{}, nil
	}
	return items, nil
}
