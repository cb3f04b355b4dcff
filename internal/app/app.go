package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/memo-assistant/internal/backend"
	"github.com/xaenox/memo-assistant/internal/chat"
	"github.com/xaenox/memo-assistant/internal/events"
	"github.com/xaenox/memo-assistant/internal/knowledge"
	"github.com/xaenox/memo-assistant/internal/memory"
	"github.com/xaenox/memo-assistant/internal/metrics"
	"github.com/xaenox/memo-assistant/internal/models"
	"github.com/xaenox/memo-assistant/internal/storage"
	"github.com/xaenox/memo-assistant/pkg/config"
	"go.uber.org/zap"
)

// App holds every long-lived component for one namespace. Front-ends that
// need more namespaces (the Telegram bot) get them through NewSession.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   storage.Store
	Bus     *events.Bus
	Backend backend.Backend
	Memory  *memory.Manager
	Deriver *metrics.Deriver
	Session *chat.Session

	counter memory.TokenCounter
}

type Option func(*App)

// WithBackend replaces the configured chat backend.
func WithBackend(b backend.Backend) Option {
	return func(a *App) { a.Backend = b }
}

// WithStore replaces the configured store.
func WithStore(s storage.Store) Option {
	return func(a *App) { a.Store = s }
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	if a.Store == nil {
		store, err := storage.Open(ctx, StorageConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		a.Store = store
	}

	if a.Backend == nil {
		b, err := backend.New(BackendConfig(cfg), logger)
		if err != nil {
			_ = a.Store.Close()
			return nil, fmt.Errorf("failed to create chat backend: %w", err)
		}
		a.Backend = b
	}

	if cfg.Memory.MaxPromptTokens > 0 {
		counter, err := memory.NewTiktokenCounter(cfg.Memory.TokenEncoding)
		if err != nil {
			_ = a.Store.Close()
			return nil, err
		}
		a.counter = counter
	}

	a.Bus = events.NewBus(logger)

	session, err := a.NewSession(ctx, cfg.Storage.Namespace)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Session = session
	a.Memory = session.Memory()
	a.Deriver = metrics.NewDeriver(storage.NewCollections(a.Store, cfg.Storage.Namespace), cfg.Metrics.Interval, logger)

	logger.Info("Assistant initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("backend", cfg.Backend.Provider),
		zap.String("namespace", cfg.Storage.Namespace),
		zap.Int("conversations", len(a.Memory.Conversations())))

	return a, nil
}

// NewSession builds and loads a memory manager for namespace and wraps it
// in a chat session sharing this App's store, bus and backend. Load
// failures are warnings: the session starts from whatever could be read.
func (a *App) NewSession(ctx context.Context, namespace string) (*chat.Session, error) {
	logger := a.Logger.With(zap.String("namespace", namespace))

	opts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithPublisher(a.Bus),
		memory.WithWindow(a.Config.Memory.RecentConversations, a.Config.Memory.RecentKnowledge),
	}
	if a.counter != nil {
		opts = append(opts, memory.WithTokenBudget(a.counter, a.Config.Memory.MaxPromptTokens))
	}

	mem := memory.New(storage.NewCollections(a.Store, namespace), opts...)
	if err := mem.Load(ctx); err != nil && !errors.Is(err, memory.ErrPersistence) {
		return nil, err
	}

	return chat.NewSession(mem, a.Backend,
		chat.WithExtractor(a.extractor()),
		chat.WithLogger(logger),
	), nil
}

// extractor turns an explicitly empty trigger list into "never extract".
func (a *App) extractor() knowledge.Extractor {
	if len(a.Config.Memory.KnowledgeTriggers) == 0 {
		return knowledge.Nop{}
	}
	return knowledge.NewTriggerExtractor(a.Config.Memory.KnowledgeTriggers...)
}

// NewDeriver returns a metrics deriver reading the given namespace.
func (a *App) NewDeriver(namespace string) *metrics.Deriver {
	return metrics.NewDeriver(storage.NewCollections(a.Store, namespace), a.Config.Metrics.Interval, a.Logger)
}

// MetricsFor derives fresh metrics for namespace straight from the store.
func (a *App) MetricsFor(ctx context.Context, namespace string) models.Metrics {
	return a.NewDeriver(namespace).Refresh(ctx)
}

// RunMetrics drives the default deriver until ctx is done.
func (a *App) RunMetrics(ctx context.Context) error {
	changes, err := a.Bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to memory changes: %w", err)
	}
	return a.Deriver.Run(ctx, changes)
}

func (a *App) Close() error {
	var errs []error
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

func StorageConfig(cfg *config.Config) storage.Config {
	s := cfg.Storage
	return storage.Config{
		Driver:     s.Driver,
		SQLitePath: s.SQLite.Path,
		Postgres: storage.DatabaseConfig{
			Host:     s.Postgres.Host,
			Port:     s.Postgres.Port,
			User:     s.Postgres.User,
			Password: s.Postgres.Password,
			DBName:   s.Postgres.DBName,
			SSLMode:  s.Postgres.SSLMode,
		},
		RedisURL: s.Redis.URL,
		Redis: storage.RedisConfig{
			Addr:      s.Redis.Addr,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
		},
		DynamoDB: storage.DynamoDBConfig{
			Region:          s.DynamoDB.Region,
			Endpoint:        s.DynamoDB.Endpoint,
			Table:           s.DynamoDB.Table,
			AccessKeyID:     s.DynamoDB.AccessKeyID,
			SecretAccessKey: s.DynamoDB.SecretAccessKey,
		},
	}
}

func BackendConfig(cfg *config.Config) backend.Config {
	b := cfg.Backend
	return backend.Config{
		Provider: b.Provider,
		OpenAI: backend.OpenAIConfig{
			APIKey:       b.OpenAI.APIKey,
			BaseURL:      b.OpenAI.BaseURL,
			Model:        b.OpenAI.Model,
			MaxTokens:    b.OpenAI.MaxTokens,
			Temperature:  b.OpenAI.Temperature,
			SystemPrompt: b.OpenAI.SystemPrompt,
		},
		HTTP: backend.HTTPConfig{
			Endpoint:    b.HTTP.Endpoint,
			APIKey:      b.HTTP.APIKey,
			MaxTokens:   b.HTTP.MaxTokens,
			Temperature: b.HTTP.Temperature,
			Timeout:     b.HTTP.Timeout,
		},
	}
}
