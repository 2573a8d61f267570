package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/kalambet/paperqa/internal/api"
	"github.com/kalambet/paperqa/internal/config"
	"github.com/kalambet/paperqa/internal/corpus"
	"github.com/kalambet/paperqa/internal/engine"
	"github.com/kalambet/paperqa/internal/generation"
	"github.com/kalambet/paperqa/internal/guard"
	"github.com/kalambet/paperqa/internal/jobs"
	"github.com/kalambet/paperqa/internal/preprocess"
	"github.com/kalambet/paperqa/internal/proxy"
	"github.com/kalambet/paperqa/internal/retrieval"
	"github.com/kalambet/paperqa/internal/storage"
)

// app is the wired set of components shared by the server-side commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	chunks   retrieval.ChunkStore
	qdrant   *retrieval.QdrantStore
	ollama   *engine.OllamaEngine
	registry *corpus.Registry
	jobs     *jobs.Manager
	runner   *jobs.Runner
	nc       *nats.Conn
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// openApp opens storage and builds the retrieval and generation pipeline.
func openApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{
		cfg:      cfg,
		store:    store,
		ollama:   engine.NewOllamaEngine(cfg.Ollama.BaseURL),
		registry: corpus.NewRegistry(store),
		jobs:     jobs.NewManager(store, cfg.Jobs.TTL),
	}

	switch cfg.Retrieval.Backend {
	case config.BackendQdrant:
		q, err := retrieval.NewQdrantStore(cfg.Retrieval.QdrantAddr, cfg.Retrieval.QdrantCollection)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		a.qdrant = q
		a.chunks = q
	default:
		a.chunks = retrieval.NewSQLiteStore(store.DB())
	}

	synonyms := preprocess.Synonyms(nil)
	if cfg.Retrieval.SynonymsFile != "" {
		synonyms, err = preprocess.LoadSynonyms(cfg.Retrieval.SynonymsFile)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	gateway := retrieval.NewGateway(store, a.ollama, a.chunks, preprocess.New(synonyms))
	generator := generation.New(a.completer(), cfg.ChatModel(), 0)
	a.runner = jobs.NewRunner(a.jobs, gateway, generator)
	return a, nil
}

func (a *app) openRouter() *proxy.Client {
	return proxy.NewClientWithBaseURL(a.cfg.OpenRouter.APIKey, a.cfg.OpenRouter.BaseURL).
		WithRateLimit(a.cfg.OpenRouter.RequestsPerSecond)
}

// checkRemoteModel warns when the configured OpenRouter model is not served.
// Requests may still name another model, so this never blocks startup.
func (a *app) checkRemoteModel(ctx context.Context) {
	if a.cfg.OpenRouter.APIKey == "" {
		return
	}
	ok, err := a.openRouter().HasModel(ctx, a.cfg.OpenRouter.Model)
	switch {
	case err != nil:
		slog.Warn("could not list OpenRouter models", "error", err)
	case !ok:
		printWarning("OpenRouter does not serve model %s; set openrouter.model", a.cfg.OpenRouter.Model)
	}
}

// completer serves completions from OpenRouter when a key is configured and
// from the local Ollama engine otherwise.
func (a *app) completer() engine.Completer {
	if a.cfg.OpenRouter.APIKey == "" {
		return a.ollama
	}
	return engine.NewOpenRouterCompleter(a.openRouter())
}

// dispatcher returns the configured job trigger. The inline dispatcher is
// also returned so callers can wait for in-process jobs on shutdown.
func (a *app) dispatcher() (jobs.Dispatcher, *jobs.InlineDispatcher, error) {
	if a.cfg.Jobs.Dispatcher != config.DispatcherNATS {
		inline := jobs.NewInlineDispatcher(a.runner)
		return inline, inline, nil
	}
	if err := a.connectNATS(); err != nil {
		return nil, nil, err
	}
	return jobs.NewNATSDispatcher(a.nc, a.cfg.Jobs.Subject), nil, nil
}

func (a *app) connectNATS() error {
	if a.nc != nil {
		return nil
	}
	nc, err := nats.Connect(a.cfg.Jobs.NATSURL, nats.Name("paperqa"))
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", a.cfg.Jobs.NATSURL, err)
	}
	a.nc = nc
	return nil
}

func (a *app) apiDeps(d jobs.Dispatcher) api.Deps {
	return api.Deps{
		Health:     a.store,
		Jobs:       a.jobs,
		Runner:     a.runner,
		Dispatcher: d,
		Guard:      guard.New(a.store),
		Limiter:    guard.NewLimiter(a.cfg.Guard.Window, a.cfg.Guard.MaxRequests, a.cfg.Guard.MaxInFlight),
		Corpora:    a.registry,
		APIToken:   a.cfg.Server.APIKey,
	}
}

// requiredModels lists the Ollama models the server needs: the chat model
// when completions are local, the default embedding model and every
// registered corpus's embedding model.
func (a *app) requiredModels(ctx context.Context) ([]string, error) {
	var models []string
	if a.cfg.OpenRouter.APIKey == "" {
		models = append(models, a.cfg.Ollama.ChatModel)
	}
	models = append(models, a.cfg.Ollama.EmbedModel)
	corpora, err := a.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing corpora: %w", err)
	}
	for _, c := range corpora {
		models = append(models, c.EmbeddingModel)
	}
	return models, nil
}

// seed registers corpora from the configured seed file, if any.
func (a *app) seed(ctx context.Context) error {
	if a.cfg.Corpus.SeedFile == "" {
		return nil
	}
	seeded, err := a.registry.Seed(ctx, a.cfg.Corpus.SeedFile)
	if err != nil {
		return err
	}
	slog.Info("corpora seeded", "count", len(seeded), "file", a.cfg.Corpus.SeedFile)
	return nil
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Drain()
	}
	if a.qdrant != nil {
		a.qdrant.Close()
	}
	a.store.Close()
}
