package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "PAPERQA_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PAPERQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_key", typ: kString, env: "PAPERQA_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIKey },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "PAPERQA_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAPERQA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PAPERQA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "PAPERQA_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PAPERQA_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "PAPERQA_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "PAPERQA_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.model", typ: kString, env: "PAPERQA_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "openrouter.requests_per_second", typ: kFloat, env: "PAPERQA_OPENROUTER_RPS",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenRouter.RequestsPerSecond },
	},
	{
		key: "retrieval.backend", typ: kString, env: "PAPERQA_RETRIEVAL_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Backend },
	},
	{
		key: "retrieval.qdrant_addr", typ: kString, env: "PAPERQA_QDRANT_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.QdrantAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.QdrantAddr },
	},
	{
		key: "retrieval.qdrant_collection", typ: kString, env: "PAPERQA_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.QdrantCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.QdrantCollection },
	},
	{
		key: "retrieval.synonyms_file", typ: kString, env: "PAPERQA_RETRIEVAL_SYNONYMS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SynonymsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.SynonymsFile },
	},
	{
		key: "corpus.seed_file", typ: kString, env: "PAPERQA_CORPUS_SEED_FILE",
		apply:   func(cfg *Config, v any) { cfg.Corpus.SeedFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.SeedFile },
	},
	{
		key: "jobs.ttl", typ: kDuration, env: "PAPERQA_JOBS_TTL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.TTL },
	},
	{
		key: "jobs.sweep_interval", typ: kDuration, env: "PAPERQA_JOBS_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.SweepInterval },
	},
	{
		key: "jobs.dispatcher", typ: kString, env: "PAPERQA_JOBS_DISPATCHER",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Dispatcher = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.Dispatcher },
	},
	{
		key: "jobs.nats_url", typ: kString, env: "PAPERQA_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.NATSURL },
	},
	{
		key: "jobs.subject", typ: kString, env: "PAPERQA_JOBS_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Subject = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.Subject },
	},
	{
		key: "guard.window", typ: kDuration, env: "PAPERQA_GUARD_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Guard.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Guard.Window },
	},
	{
		key: "guard.max_requests", typ: kInt, env: "PAPERQA_GUARD_MAX_REQUESTS",
		apply:   func(cfg *Config, v any) { cfg.Guard.MaxRequests = v.(int) },
		extract: func(cfg Config) any { return cfg.Guard.MaxRequests },
	},
	{
		key: "guard.max_in_flight", typ: kInt, env: "PAPERQA_GUARD_MAX_IN_FLIGHT",
		apply:   func(cfg *Config, v any) { cfg.Guard.MaxInFlight = v.(int) },
		extract: func(cfg Config) any { return cfg.Guard.MaxInFlight },
	},
	{
		key: "log.level", typ: kString, env: "PAPERQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "PAPERQA_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parseValue converts raw text for a non-string, non-int key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return nil, fmt.Errorf("unsupported key type %d", typ)
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	}
	return "string"
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if pv, err := parseValue(s.typ, v); err == nil {
					s.apply(cfg, pv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		default:
			if v, err := parseValue(s.typ, raw); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), s.env, raw, err)
			}
		}
	}
}
