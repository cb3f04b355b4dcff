package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// LogConfig.Level empty means info for the services and warn for the REPL.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Driver    string         `mapstructure:"driver"`
	Namespace string         `mapstructure:"namespace"`
	SQLite    SQLiteConfig   `mapstructure:"sqlite"`
	Postgres  DatabaseConfig `mapstructure:"postgres"`
	Redis     RedisConfig    `mapstructure:"redis"`
	DynamoDB  DynamoDBConfig `mapstructure:"dynamodb"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DynamoDBConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Table           string `mapstructure:"table"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type BackendConfig struct {
	Provider string       `mapstructure:"provider"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	HTTP     HTTPConfig   `mapstructure:"http"`
}

type OpenAIConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

type HTTPConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type MemoryConfig struct {
	RecentConversations int      `mapstructure:"recent_conversations"`
	RecentKnowledge     int      `mapstructure:"recent_knowledge"`
	MaxPromptTokens     int      `mapstructure:"max_prompt_tokens"`
	TokenEncoding       string   `mapstructure:"token_encoding"`
	KnowledgeTriggers   []string `mapstructure:"knowledge_triggers"`
}

type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// AllowedOrigins may open the metrics websocket from a browser; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "")

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.namespace", "")
	v.SetDefault("storage.sqlite.path", "data/memo.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "postgres")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "memo")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.url", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "memo:")
	v.SetDefault("storage.dynamodb.region", "us-east-1")
	v.SetDefault("storage.dynamodb.endpoint", "")
	v.SetDefault("storage.dynamodb.table", "memo_kv")
	v.SetDefault("storage.dynamodb.access_key_id", "")
	v.SetDefault("storage.dynamodb.secret_access_key", "")

	v.SetDefault("backend.provider", "openai")
	v.SetDefault("backend.openai.api_key", "")
	v.SetDefault("backend.openai.base_url", "")
	v.SetDefault("backend.openai.model", "gpt-3.5-turbo")
	v.SetDefault("backend.openai.max_tokens", 1000)
	v.SetDefault("backend.openai.temperature", 0.7)
	v.SetDefault("backend.openai.system_prompt", "")
	v.SetDefault("backend.http.endpoint", "")
	v.SetDefault("backend.http.api_key", "")
	v.SetDefault("backend.http.max_tokens", 1000)
	v.SetDefault("backend.http.temperature", 0.7)
	v.SetDefault("backend.http.timeout", 60*time.Second)

	v.SetDefault("memory.recent_conversations", 5)
	v.SetDefault("memory.recent_knowledge", 10)
	v.SetDefault("memory.max_prompt_tokens", 0)
	v.SetDefault("memory.token_encoding", "cl100k_base")
	v.SetDefault("memory.knowledge_triggers", []string{"remember", "important"})

	v.SetDefault("metrics.interval", 5*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("telegram.token", "")
}

// LoadConfig reads .env, then the YAML file at path (optional), then the
// environment. STORAGE_DRIVER style variables override nested keys.
func LoadConfig(path string) (*Config, error) {
	// .env is optional, plain environment variables work the same
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Storage.Postgres = dbConfig
		if config.Storage.Driver == "" {
			config.Storage.Driver = "postgres"
		}
	}

	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Storage.Redis.URL = redisURL
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.Backend.OpenAI.APIKey = apiKey
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = "sqlite"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Memory.RecentConversations < 0 || c.Memory.RecentKnowledge < 0 {
		return fmt.Errorf("memory windows must not be negative")
	}
	if c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive, got %s", c.Metrics.Interval)
	}
	return nil
}
