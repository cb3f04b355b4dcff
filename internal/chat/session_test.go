package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-assistant/internal/backend"
	"github.com/xaenox/memo-assistant/internal/memory"
	"github.com/xaenox/memo-assistant/internal/models"
	"github.com/xaenox/memo-assistant/internal/storage"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T, b backend.Backend, store storage.Store) *Session {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	mem := memory.New(storage.NewCollections(store, ""), memory.WithLogger(zap.NewNop()))
	require.NoError(t, mem.Load(context.Background()))
	return NewSession(mem, b)
}

func echo() backend.Backend {
	return backend.Func(func(_ context.Context, prompt string) (string, error) {
		return "echo", nil
	})
}

func TestNewSession_StartsWithGreeting(t *testing.T) {
	s := newTestSession(t, echo(), nil)

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, RoleAssistant, transcript[0].Role)
	require.Equal(t, Greeting, transcript[0].Content)
	require.Empty(t, transcript[0].ConversationID)
	require.Empty(t, s.Memory().Conversations())
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, StateIdle, s.LastOutcome())

	_, ok := s.LastReply()
	require.False(t, ok)
}

func TestSend_Success(t *testing.T) {
	ctx := context.Background()
	var prompts []string
	b := backend.Func(func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "reply " + string(rune('0'+len(prompts))), nil
	})
	s := newTestSession(t, b, nil)

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	require.False(t, turn.Failed)
	require.NoError(t, turn.Warning)
	require.Equal(t, "reply 1", turn.Reply)
	require.Equal(t, "Previous context:\nCurrent message: hello", prompts[0])

	_, err = s.Send(ctx, "again")
	require.NoError(t, err)
	require.Equal(t, "Previous context:\nRecent conversations:\nUser: hello\nAI: reply 1\n\nCurrent message: again", prompts[1])

	log := s.Memory().Conversations()
	require.Len(t, log, 2)
	require.Equal(t, turn.Entry.ID, log[0].ID)

	transcript := s.Transcript()
	require.Len(t, transcript, 5)
	require.Equal(t, RoleUser, transcript[1].Role)
	require.Equal(t, "hello", transcript[1].Content)
	require.Equal(t, RoleAssistant, transcript[2].Role)
	require.Equal(t, turn.Entry.ID, transcript[2].ConversationID)

	require.Equal(t, StateIdle, s.State())
	require.Equal(t, StateSuccess, s.LastOutcome())
}

func TestSend_EmptyMessage(t *testing.T) {
	s := newTestSession(t, echo(), nil)

	_, err := s.Send(context.Background(), "  \n\t")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Len(t, s.Transcript(), 1)
	require.Empty(t, s.Memory().Conversations())
}

func TestSend_BackendFailureUsesPersistedFallback(t *testing.T) {
	ctx := context.Background()
	b := backend.Func(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	})
	s := newTestSession(t, b, nil)

	turn, err := s.Send(ctx, "please remember my cat is called Tom")
	require.NoError(t, err)
	require.True(t, turn.Failed)
	require.Equal(t, FallbackResponse, turn.Reply)
	require.Equal(t, StateFailed, s.LastOutcome())
	require.Equal(t, StateIdle, s.State())

	log := s.Memory().Conversations()
	require.Len(t, log, 1)
	require.Equal(t, FallbackResponse, log[0].AIResponse)
	require.Equal(t, "User mentioned: please remember my cat is called Tom", log[0].LearnedKnowledge)
	require.Equal(t, []string{"User mentioned: please remember my cat is called Tom"}, s.Memory().Knowledge())

	last, ok := s.LastReply()
	require.True(t, ok)
	require.True(t, last.Failed)

	require.NoError(t, s.Feedback(ctx, turn.Entry.ID, models.FeedbackNegative))
	entry, ok := s.Memory().Find(turn.Entry.ID)
	require.True(t, ok)
	require.Equal(t, models.FeedbackNegative, entry.Feedback)
}

func TestSend_RejectsConcurrentSends(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	b := backend.Func(func(context.Context, string) (string, error) {
		close(entered)
		<-release
		return "slow", nil
	})
	s := newTestSession(t, b, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "first")
		firstDone <- err
	}()

	<-entered
	require.Equal(t, StateSending, s.State())

	transcript := s.Transcript()
	require.Equal(t, "first", transcript[len(transcript)-1].Content, "user message is shown before the reply")

	_, err := s.Send(ctx, "second")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-firstDone)

	require.Equal(t, StateIdle, s.State())
	require.Len(t, s.Memory().Conversations(), 1)
}

func TestSend_PanickingBackendReleasesSession(t *testing.T) {
	ctx := context.Background()
	calls := 0
	b := backend.Func(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			panic("backend exploded")
		}
		return "recovered", nil
	})
	s := newTestSession(t, b, nil)

	require.Panics(t, func() { _, _ = s.Send(ctx, "first") })
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, StateFailed, s.LastOutcome())

	turn, err := s.Send(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, "recovered", turn.Reply)
}

func TestSend_OrderIsPreserved(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, echo(), nil)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := s.Send(ctx, msg)
		require.NoError(t, err)
	}

	var got []string
	for _, e := range s.Memory().Conversations() {
		got = append(got, e.UserMessage)
	}
	require.Equal(t, []string{"one", "two", "three"}, got)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, storage.ErrNotFound }
func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}
func (brokenStore) Close() error { return nil }

func TestSend_PersistenceFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, echo(), brokenStore{})

	turn, err := s.Send(ctx, "hi")
	require.NoError(t, err)
	require.ErrorIs(t, turn.Warning, memory.ErrPersistence)
	require.Equal(t, "echo", turn.Reply)
	require.NotEmpty(t, turn.Entry.ID)
	require.Len(t, s.Memory().Conversations(), 1)
	require.Equal(t, StateSuccess, s.LastOutcome())
}

func TestFeedback_MirrorsOnTranscript(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, echo(), nil)

	turn, err := s.Send(ctx, "hi")
	require.NoError(t, err)

	require.NoError(t, s.Feedback(ctx, turn.Entry.ID, models.FeedbackPositive))
	last, ok := s.LastReply()
	require.True(t, ok)
	require.Equal(t, models.FeedbackPositive, last.Feedback)

	require.NoError(t, s.Feedback(ctx, "stale-id", models.FeedbackNegative))
	require.ErrorIs(t, s.Feedback(ctx, turn.Entry.ID, models.Feedback("meh")), memory.ErrInvalidFeedback)

	last, _ = s.LastReply()
	require.Equal(t, models.FeedbackPositive, last.Feedback)
}

func TestSend_BackendSeesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	b := backend.Func(func(ctx context.Context, _ string) (string, error) {
		if ctx.Value(key{}) != "v" {
			return "", errors.New("context not propagated")
		}
		return "ok", nil
	})
	s := newTestSession(t, b, nil)

	turn, err := s.Send(ctx, "hi")
	require.NoError(t, err)
	require.False(t, turn.Failed)
}

func TestSend_CanceledContextFallsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	b := backend.Func(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := newTestSession(t, b, nil)

	turn, err := s.Send(ctx, "hi")
	require.NoError(t, err)
	require.True(t, turn.Failed)
	require.True(t, strings.HasPrefix(turn.Reply, "Sorry"))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "sending", StateSending.String())
	require.Equal(t, "success", StateSuccess.String())
	require.Equal(t, "failed", StateFailed.String())
}
