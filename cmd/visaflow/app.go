package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tbxark/visaflow"
	"github.com/tbxark/visaflow/config"
	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/definitions"
	"github.com/tbxark/visaflow/engine"
	"github.com/tbxark/visaflow/intent"
	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/session"
)

// app holds everything a command needs. close releases the database pool.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *session.MemoryStore
	router *visaflow.Router
	close  func()
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	loader, err := newLoader(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, close: func() {}}
	storeOpts := []session.StoreOption{
		session.WithTTL(cfg.Session.TTL),
		session.WithLogger(logger),
	}
	if cfg.Database.URL != "" {
		pool, pErr := pgxpool.New(ctx, cfg.Database.URL)
		if pErr != nil {
			return nil, fmt.Errorf("connect database failed: %w", pErr)
		}
		records := session.NewPostgresRecordStore(pool)
		if pErr = records.EnsureSchema(ctx); pErr != nil {
			pool.Close()
			return nil, fmt.Errorf("prepare database failed: %w", pErr)
		}
		a.close = pool.Close
		storeOpts = append(storeOpts, session.WithRecordStore(records))
		logger.Info("Using postgres record store")
	} else {
		storeOpts = append(storeOpts, session.WithRecordStore(session.NewMemoryRecordStore("visaflow")))
	}
	a.store = session.NewMemoryStore(storeOpts...)

	o, recognizer, err := newOracle(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.router = visaflow.NewRouter(a.store, loader, o,
		visaflow.WithRecognizer(recognizer),
		visaflow.WithEngine(engine.New(engine.WithLogger(logger))),
		visaflow.WithLogger(logger),
	)
	return a, nil
}

func newLoader(cfg *config.Config, logger *slog.Logger) (*definition.Loader, error) {
	loader := definition.NewLoader(definition.WithLoaderLogger(logger))
	n, err := loader.RegisterFS(definitions.FS, definitions.Dir)
	if err != nil {
		return nil, fmt.Errorf("load bundled definitions failed: %w", err)
	}
	if cfg.Definitions.Dir != "" {
		extra, dErr := loader.RegisterFS(os.DirFS(cfg.Definitions.Dir), ".")
		if dErr != nil {
			return nil, fmt.Errorf("load definitions from %s failed: %w", cfg.Definitions.Dir, dErr)
		}
		n += extra
	}
	logger.Debug("Registered workflow definitions", "count", n, "visa_types", loader.VisaTypes())
	return loader, nil
}

// newOracle prefers the LLM oracle and falls back to keyword classification when it
// fails. Without an API key documents yield no values and text is classified locally.
func newOracle(ctx context.Context, cfg *config.Config, logger *slog.Logger) (oracle.ExtractionOracle, intent.Recognizer, error) {
	local := intent.NewLocalRecognizer()
	if !cfg.HasLLM() {
		logger.Warn("No LLM configured, using the offline recognizer")
		return oracle.NewStatic(), local, nil
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create chat model failed: %w", err)
	}
	tool, err := oracle.NewToolOracle(cm, oracle.WithToolLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	o := oracle.WithTimeout(tool, cfg.Oracle.Timeout)
	recognizer := intent.NewFailbackRecognizer(intent.NewOracleRecognizer(o), local)
	return o, recognizer, nil
}
