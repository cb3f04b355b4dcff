package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/memo-assistant/internal/backend"
	"github.com/xaenox/memo-assistant/internal/knowledge"
	"github.com/xaenox/memo-assistant/internal/memory"
	"github.com/xaenox/memo-assistant/internal/models"
	"go.uber.org/zap"
)

var (
	ErrBusy         = errors.New("chat: a message is already being sent")
	ErrEmptyMessage = errors.New("chat: empty message")
)

const (
	Greeting         = "Hello! I'm your memory-backed assistant. I remember our recent conversations and anything you ask me to remember. How can I help you today?"
	FallbackResponse = "Sorry, I couldn't reach the assistant right now. Please check the connection and try again."
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one line of the visible transcript. ConversationID is set on
// assistant messages that were saved to memory and can be rated.
type Message struct {
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Feedback       models.Feedback `json:"feedback,omitempty"`
	Failed         bool            `json:"failed,omitempty"`
}

// Turn is the outcome of one Send.
type Turn struct {
	Entry   models.ConversationEntry
	Reply   string
	Failed  bool
	Warning error
}

// Session is a single transcript. Sends are serialized: a Send that
// arrives while another is in flight fails fast with ErrBusy.
type Session struct {
	memory    *memory.Manager
	backend   backend.Backend
	extractor knowledge.Extractor
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.RWMutex
	state       State
	lastOutcome State
	transcript  []Message
}

type Option func(*Session)

func WithExtractor(e knowledge.Extractor) Option {
	return func(s *Session) { s.extractor = e }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func NewSession(mem *memory.Manager, b backend.Backend, opts ...Option) *Session {
	s := &Session{
		memory:      mem,
		backend:     b,
		extractor:   knowledge.NewTriggerExtractor(knowledge.DefaultTriggers...),
		logger:      zap.NewNop(),
		now:         time.Now,
		state:       StateIdle,
		lastOutcome: StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.transcript = []Message{{Role: RoleAssistant, Content: Greeting, Timestamp: s.now()}}
	return s
}

func (s *Session) Memory() *memory.Manager {
	return s.memory
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastOutcome is Success or Failed for the most recent completed turn,
// Idle before the first one.
func (s *Session) LastOutcome() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOutcome
}

func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state == StateSending {
		s.mu.Unlock()
		return Turn{}, ErrBusy
	}
	s.state = StateSending
	s.transcript = append(s.transcript, Message{Role: RoleUser, Content: text, Timestamp: s.now()})
	s.mu.Unlock()

	// a panicking backend must not leave the session stuck in Sending
	defer func() {
		s.mu.Lock()
		if s.state == StateSending {
			s.state = StateIdle
			s.lastOutcome = StateFailed
		}
		s.mu.Unlock()
	}()

	turn := Turn{}
	prompt := s.memory.GetContextualPrompt(text)

	reply, err := s.backend.Chat(ctx, prompt)
	if err != nil {
		s.logger.Warn("Chat backend failed, answering with fallback", zap.Error(err))
		reply = FallbackResponse
		turn.Failed = true
	}
	turn.Reply = reply

	learned, _ := s.extractor.Extract(text)

	entry, err := s.memory.SaveConversation(ctx, text, reply, learned)
	if err != nil {
		if !errors.Is(err, memory.ErrPersistence) {
			// no entry was created at all, so there is nothing to rate
			s.logger.Warn("Failed to record conversation", zap.Error(err))
		}
		turn.Warning = err
	}
	turn.Entry = entry

	outcome := StateSuccess
	if turn.Failed {
		outcome = StateFailed
	}

	s.mu.Lock()
	s.transcript = append(s.transcript, Message{
		Role:           RoleAssistant,
		Content:        reply,
		Timestamp:      s.now(),
		ConversationID: entry.ID,
		Failed:         turn.Failed,
	})
	s.lastOutcome = outcome
	s.state = StateIdle
	s.mu.Unlock()

	return turn, nil
}

// Feedback rates a saved exchange and mirrors the tag on the transcript.
func (s *Session) Feedback(ctx context.Context, conversationID string, feedback models.Feedback) error {
	err := s.memory.AddFeedback(ctx, conversationID, feedback)
	if err != nil && !errors.Is(err, memory.ErrPersistence) {
		return err
	}

	s.mu.Lock()
	for i := range s.transcript {
		if conversationID != "" && s.transcript[i].ConversationID == conversationID {
			s.transcript[i].Feedback = feedback
		}
	}
	s.mu.Unlock()

	return err
}

// LastReply is the most recent rateable assistant message.
func (s *Session) LastReply() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Role == RoleAssistant && s.transcript[i].ConversationID != "" {
			return s.transcript[i], true
		}
	}
	return Message{}, false
}

func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}
