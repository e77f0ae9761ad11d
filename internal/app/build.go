// Package app builds the service object graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/learnaware/tutor/internal/config"
	"github.com/learnaware/tutor/internal/conversations"
	"github.com/learnaware/tutor/internal/database"
	"github.com/learnaware/tutor/internal/health"
	"github.com/learnaware/tutor/internal/httpapi"
	"github.com/learnaware/tutor/internal/llm"
	"github.com/learnaware/tutor/internal/observability"
	"github.com/learnaware/tutor/internal/store"
	"github.com/learnaware/tutor/internal/tutor"
	"github.com/learnaware/tutor/internal/users"
)

const serviceName = "learnaware"

// Version is stamped at link time.
var Version = "dev"

type BuildResult struct {
	Config        config.Config
	Logger        zerolog.Logger
	API           *httpapi.Server
	Database      *database.Manager
	Users         *users.Store
	Conversations *conversations.Store
	Health        *health.Reporter
	Tutor         *tutor.Service
	Metrics       *observability.Metrics

	// Cleanup releases the database client, flushes traces and closes the
	// log output.
	Cleanup func(ctx context.Context) error
}

type buildOptions struct {
	dialer database.Dialer
	logger *zerolog.Logger
}

type Option func(*buildOptions)

// WithDialer replaces the driver dialer.
func WithDialer(d database.Dialer) Option {
	return func(o *buildOptions) { o.dialer = d }
}

// WithLogger uses logger instead of one built from the log settings.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *buildOptions) { o.logger = &logger }
}

// Build wires every component. An unreachable database does not fail the
// build: the service starts degraded and reports it through health and
// readiness.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*BuildResult, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	logger, logCloser, err := buildLogger(cfg, bo.logger)
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := observability.InitTracing(cfg.TracingExporter, serviceName, Version)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	manager := ConnectDatabase(ctx, cfg, logger, bo.dialer, metrics.SetDatabaseState)

	records := func(name string) *store.Store {
		return store.New(manager, name,
			store.WithLogger(observability.Component(logger, "store")),
			store.WithObserver(metrics))
	}
	userStore := users.NewStore(records(users.CollectionName))
	convStore := conversations.NewStore(records(conversations.CollectionName))

	if manager.IsConnected() && manager.DatabaseInitialized() {
		if err := userStore.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Str("collection", users.CollectionName).Msg("index creation failed")
		}
		if err := convStore.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Str("collection", conversations.CollectionName).Msg("index creation failed")
		}
	}

	adapter, err := llm.NewAdapter(llm.Config{
		Provider:    cfg.LLMProvider,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxRetries:  cfg.LLMMaxRetries,
		Timeout:     cfg.LLMTimeout,
		Logger:      observability.Component(logger, "llm"),
		Observer:    metrics,
	})
	if err != nil {
		_ = manager.Close(ctx)
		_ = shutdownTracing(ctx)
		_ = logCloser.Close()
		return nil, fmt.Errorf("llm adapter init failed: %w", err)
	}

	tutorService := tutor.NewService(userStore, convStore, adapter,
		tutor.Config{SystemPrompt: cfg.TutorSystemPrompt, HistoryLimit: cfg.TutorHistoryLimit},
		tutor.WithLogger(observability.Component(logger, "tutor")),
		tutor.WithObserver(metrics))
	reporter := health.NewReporter(manager, observability.Component(logger, "health"))

	api := httpapi.New(cfg, httpapi.Deps{
		Users:         userStore,
		Conversations: convStore,
		Tutor:         tutorService,
		Health:        reporter,
		Readiness:     manager,
		Metrics:       metrics,
		Logger:        observability.Component(logger, "http"),
	})

	cleanup := func(ctx context.Context) error {
		return errors.Join(
			manager.Close(ctx),
			shutdownTracing(ctx),
			logCloser.Close(),
		)
	}

	return &BuildResult{
		Config:        cfg,
		Logger:        logger,
		API:           api,
		Database:      manager,
		Users:         userStore,
		Conversations: convStore,
		Health:        reporter,
		Tutor:         tutorService,
		Metrics:       metrics,
		Cleanup:       cleanup,
	}, nil
}

// ConnectDatabase creates the connection manager and initializes it from cfg.
// onState, when set, observes every state transition.
func ConnectDatabase(ctx context.Context, cfg config.Config, logger zerolog.Logger, dialer database.Dialer, onState func(string)) *database.Manager {
	opts := []database.Option{database.WithLogger(observability.Component(logger, "database"))}
	if dialer != nil {
		opts = append(opts, database.WithDialer(dialer))
	}
	if onState != nil {
		opts = append(opts, database.WithStateHook(func(s database.State) { onState(string(s)) }))
	}
	manager := database.NewManager(opts...)

	if budget := cfg.MongoConnectTimeout + cfg.MongoServerSelectionTimeout; budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	manager.Initialize(ctx, database.Options{
		URI:                    cfg.MongoConnectionURI(),
		Database:               cfg.MongoDBName,
		MaxPoolSize:            cfg.MongoMaxPoolSize,
		MinPoolSize:            cfg.MongoMinPoolSize,
		MaxIdleTime:            cfg.MongoMaxIdleTime,
		ConnectTimeout:         cfg.MongoConnectTimeout,
		ServerSelectionTimeout: cfg.MongoServerSelectionTimeout,
	})
	return manager
}

func buildLogger(cfg config.Config, override *zerolog.Logger) (zerolog.Logger, io.Closer, error) {
	if override != nil {
		return *override, io.NopCloser(nil), nil
	}
	logger, closer, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("logger init failed: %w", err)
	}
	return logger.With().Str("service", serviceName).Logger(), closer, nil
}
