package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Ollama     OllamaConfig
	OpenRouter OpenRouterConfig
	Retrieval  RetrievalConfig
	Corpus     CorpusConfig
	Jobs       JobsConfig
	Guard      GuardConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	APIKey   string
	MCPStdio bool
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// OpenRouterConfig selects OpenRouter for completions when APIKey is set.
type OpenRouterConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
}

type RetrievalConfig struct {
	Backend          string
	QdrantAddr       string
	QdrantCollection string
	SynonymsFile     string
}

type CorpusConfig struct {
	SeedFile string
}

type JobsConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Dispatcher    string
	NATSURL       string
	Subject       string
}

type GuardConfig struct {
	Window      time.Duration
	MaxRequests int
	MaxInFlight int
}

type LogConfig struct {
	Level  string
	Format string
}

// Retrieval backends.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Job dispatchers.
const (
	DispatcherInline = "inline"
	DispatcherNATS   = "nats"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "anthropic/claude-sonnet-4",
			RequestsPerSecond: 2,
		},
		Retrieval: RetrievalConfig{
			Backend:          BackendSQLite,
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "paperqa_chunks",
		},
		Jobs: JobsConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
			Dispatcher:    DispatcherInline,
			NATSURL:       "nats://127.0.0.1:4222",
			Subject:       "paperqa.jobs.execute",
		},
		Guard: GuardConfig{
			Window:      time.Minute,
			MaxRequests: 3,
			MaxInFlight: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/paperqa/config.yaml, then applies PAPERQA_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Retrieval.Backend {
	case BackendSQLite, BackendQdrant:
	default:
		return fmt.Errorf("invalid retrieval.backend %q: want %s or %s", c.Retrieval.Backend, BackendSQLite, BackendQdrant)
	}
	switch c.Jobs.Dispatcher {
	case DispatcherInline, DispatcherNATS:
	default:
		return fmt.Errorf("invalid jobs.dispatcher %q: want %s or %s", c.Jobs.Dispatcher, DispatcherInline, DispatcherNATS)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ChatModel is the completion model for the configured provider.
func (c Config) ChatModel() string {
	if c.OpenRouter.APIKey != "" {
		return c.OpenRouter.Model
	}
	return c.Ollama.ChatModel
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "paperqa-data"
		}
	}
	return filepath.Join(dir, "paperqa")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "paperqa", "config.yaml")
}

// FilePath returns the config file location.
func FilePath() string {
	return configFilePath()
}
