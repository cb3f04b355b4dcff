package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/memo-assistant/internal/events"
	"github.com/xaenox/memo-assistant/internal/models"
	"github.com/xaenox/memo-assistant/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrPersistence wraps store failures. The in-memory mutation already
	// happened when it is returned, so callers treat it as a warning.
	ErrPersistence = errors.New("memory: persistence failed")
	// ErrInvalidFeedback is returned for anything but positive/negative.
	ErrInvalidFeedback = errors.New("memory: invalid feedback")
)

const (
	DefaultRecentConversations = 5
	DefaultRecentKnowledge     = 10
)

// Manager owns the in-memory mirrors of the conversation log and the
// knowledge list and writes every mutation through to the store.
type Manager struct {
	collections *storage.Collections
	publisher   events.Publisher
	logger      *zap.Logger
	now         func() time.Time
	newID       func() (string, error)

	recentConversations int
	recentKnowledge     int
	counter             TokenCounter
	maxPromptTokens     int

	mu            sync.RWMutex
	conversations []models.ConversationEntry
	knowledge     []string
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithWindow sets how many recent exchanges and knowledge items go into a prompt.
func WithWindow(conversations, knowledge int) Option {
	return func(m *Manager) {
		if conversations >= 0 {
			m.recentConversations = conversations
		}
		if knowledge >= 0 {
			m.recentKnowledge = knowledge
		}
	}
}

// WithTokenBudget caps prompts at maxTokens as measured by counter.
// A non-positive maxTokens disables the cap.
func WithTokenBudget(counter TokenCounter, maxTokens int) Option {
	return func(m *Manager) {
		m.counter = counter
		m.maxPromptTokens = maxTokens
	}
}

func New(collections *storage.Collections, opts ...Option) *Manager {
	m := &Manager{
		collections:         collections,
		logger:              zap.NewNop(),
		now:                 time.Now,
		newID:               newUUIDv7,
		recentConversations: DefaultRecentConversations,
		recentKnowledge:     DefaultRecentKnowledge,
		conversations:       []models.ConversationEntry{},
		knowledge:           []string{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Load hydrates the mirrors from the store. Unreadable collections come up
// empty and corrupt ones keep their valid entries; either way the returned
// error wraps ErrPersistence.
func (m *Manager) Load(ctx context.Context) error {
	convs, convErr := m.collections.Conversations(ctx)
	knowledge, knowErr := m.collections.Knowledge(ctx)

	m.mu.Lock()
	m.conversations = convs
	m.knowledge = knowledge
	m.mu.Unlock()

	var errs []error
	if convErr != nil {
		m.logger.Warn("Failed to load all conversations",
			zap.Error(convErr),
			zap.String("namespace", m.collections.Namespace()))
		errs = append(errs, convErr)
	}
	if knowErr != nil {
		m.logger.Warn("Failed to load knowledge base, starting empty",
			zap.Error(knowErr),
			zap.String("namespace", m.collections.Namespace()))
		errs = append(errs, knowErr)
	}

	m.logger.Debug("Memory loaded",
		zap.String("namespace", m.collections.Namespace()),
		zap.Int("conversations", len(convs)),
		zap.Int("knowledge", len(knowledge)))

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
	}
	return nil
}

// Reload re-reads the store, picking up writes made by other instances.
func (m *Manager) Reload(ctx context.Context) error {
	err := m.Load(ctx)
	m.publish(ctx, events.ChangeEvent{Kind: events.KindReloaded})
	return err
}

// SaveConversation records one completed exchange. The returned entry is
// always valid; a non-nil error wrapping ErrPersistence means the store
// did not take the write.
func (m *Manager) SaveConversation(ctx context.Context, userMessage, aiResponse, learnedKnowledge string) (models.ConversationEntry, error) {
	id, err := m.newID()
	if err != nil {
		return models.ConversationEntry{}, fmt.Errorf("failed to generate conversation id: %w", err)
	}

	entry := models.ConversationEntry{
		ID:               id,
		UserMessage:      userMessage,
		AIResponse:       aiResponse,
		Timestamp:        m.now(),
		LearnedKnowledge: learnedKnowledge,
	}

	var errs []error

	m.mu.Lock()
	m.conversations = append(m.conversations, entry)
	if err := m.appendStoredConversation(ctx, entry); err != nil {
		errs = append(errs, err)
	}
	if learnedKnowledge != "" {
		m.knowledge = append(m.knowledge, learnedKnowledge)
		if err := m.collections.SetKnowledge(ctx, cloneStrings(m.knowledge)); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Unlock()

	m.publish(ctx, events.ChangeEvent{Kind: events.KindConversationSaved, ConversationID: entry.ID})

	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.logger.Warn("Conversation kept in memory only",
			zap.Error(err),
			zap.String("conversation_id", entry.ID))
		return entry, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return entry, nil
}

// appendStoredConversation is the read-modify-write of the stored log.
// Caller holds m.mu and has already appended entry to the mirror.
func (m *Manager) appendStoredConversation(ctx context.Context, entry models.ConversationEntry) error {
	stored, err := m.collections.Conversations(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return err
		}
		stored = m.recoverStored(ctx, stored, m.conversations[:len(m.conversations)-1], err)
	}
	stored = append(stored, entry)
	return m.collections.SetConversations(ctx, stored)
}

// recoverStored backs up a corrupt stored log and returns the entries to
// write back: the ones that still decoded, then any mirror entries they
// are missing. Caller holds m.mu.
func (m *Manager) recoverStored(ctx context.Context, valid, mirror []models.ConversationEntry, cause error) []models.ConversationEntry {
	m.logger.Warn("Stored conversations are corrupt, rewriting valid entries",
		zap.Error(cause),
		zap.Int("valid", len(valid)),
		zap.String("namespace", m.collections.Namespace()))

	if err := m.collections.QuarantineConversations(ctx); err != nil {
		m.logger.Warn("Failed to back up corrupt conversations", zap.Error(err))
	}

	seen := make(map[string]struct{}, len(valid))
	out := cloneEntries(valid)
	for _, e := range out {
		seen[e.ID] = struct{}{}
	}
	for _, e := range mirror {
		if _, ok := seen[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// AddFeedback tags a conversation. Unknown ids are ignored without error:
// the UI may rate a message before the log finished loading.
func (m *Manager) AddFeedback(ctx context.Context, conversationID string, feedback models.Feedback) error {
	if !feedback.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, feedback)
	}

	m.mu.Lock()
	idx := m.indexOf(conversationID)
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	m.conversations[idx].Feedback = feedback
	err := m.updateStoredFeedback(ctx, conversationID, feedback)
	m.mu.Unlock()

	m.publish(ctx, events.ChangeEvent{Kind: events.KindFeedbackAdded, ConversationID: conversationID})

	if err != nil {
		m.logger.Warn("Feedback kept in memory only",
			zap.Error(err),
			zap.String("conversation_id", conversationID))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (m *Manager) updateStoredFeedback(ctx context.Context, conversationID string, feedback models.Feedback) error {
	stored, err := m.collections.Conversations(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return err
		}
		stored = m.recoverStored(ctx, stored, m.conversations, err)
	}
	for i := range stored {
		if stored[i].ID == conversationID {
			stored[i].Feedback = feedback
		}
	}
	return m.collections.SetConversations(ctx, stored)
}

func (m *Manager) indexOf(id string) int {
	for i := range m.conversations {
		if m.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the entry with the given id from the in-memory log.
func (m *Manager) Find(id string) (models.ConversationEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if idx := m.indexOf(id); idx >= 0 {
		return m.conversations[idx], true
	}
	return models.ConversationEntry{}, false
}

func (m *Manager) Conversations() []models.ConversationEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEntries(m.conversations)
}

func (m *Manager) Knowledge() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneStrings(m.knowledge)
}

func (m *Manager) Namespace() string {
	return m.collections.Namespace()
}

func (m *Manager) publish(ctx context.Context, ev events.ChangeEvent) {
	if m.publisher == nil {
		return
	}
	ev.Namespace = m.collections.Namespace()
	ev.At = m.now()
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("Failed to publish change event",
			zap.Error(err),
			zap.String("kind", string(ev.Kind)))
	}
}

func cloneEntries(in []models.ConversationEntry) []models.ConversationEntry {
	out := make([]models.ConversationEntry, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
