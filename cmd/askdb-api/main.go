package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/api/uistatic"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/guardrail"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlexec"
	duckdbexec "github.com/askdb/askdb/internal/sqlexec/duckdb"
	postgresexec "github.com/askdb/askdb/internal/sqlexec/postgres"
	rpcexec "github.com/askdb/askdb/internal/sqlexec/rpc"
	"github.com/askdb/askdb/internal/store"
	memorystore "github.com/askdb/askdb/internal/store/memory"
	postgresstore "github.com/askdb/askdb/internal/store/postgres"
	s3store "github.com/askdb/askdb/internal/store/s3"
	"github.com/askdb/askdb/internal/viz"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	runner, closeRunner, err := buildRunner(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize query backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeRunner()

	builder, err := schema.NewBuilder(runner, schema.BuilderConfig{
		SchemaName:       cfg.Database.SchemaName,
		IncludeRowCounts: cfg.Database.IncludeRowCounts,
		Workers:          cfg.Database.IntrospectWorkers,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize schema builder", slog.Any("error", err))
		os.Exit(1)
	}

	var translator *nl2sql.Translator
	if cfg.AI.TranslateEnabled {
		client, err := nl2sql.NewOpenAIClient(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		}, nil)
		if err != nil {
			logger.Error("failed to initialize model client", slog.Any("error", err))
			os.Exit(1)
		}
		translator, err = nl2sql.NewTranslator(client)
		if err != nil {
			logger.Error("failed to initialize translator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	validator, err := guardrail.NewValidator(cfg.Guardrail.Keywords)
	if err != nil {
		logger.Error("failed to initialize guardrail", slog.Any("error", err))
		os.Exit(1)
	}

	analysisStore, closeStore, err := buildStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize analysis store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	eng, err := engine.New(
		runner,
		builder,
		translator,
		validator,
		viz.NewSelector(cfg.Viz.PieRowLimit),
		analysisStore,
		engine.Config{
			QueryTimeout: cfg.Database.QueryTimeout,
			HistoryLimit: cfg.History.Limit,
		},
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize engine", slog.Any("error", err))
		os.Exit(1)
	}

	// Build the first snapshot eagerly so /v1/schema works from the start.
	// Failure is not fatal: the backend may come up after us.
	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := eng.RefreshSchema(warmupCtx); err != nil {
		logger.Warn("initial schema snapshot failed", slog.Any("error", err))
	}
	warmupCancel()

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          eng,
		Readiness:         eng.Ready,
		DependencyTimeout: time.Second,
		UI:                uistatic.Handler(),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("backend", cfg.Database.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func buildRunner(ctx context.Context, cfg config.Config) (sqlexec.Runner, func(), error) {
	noop := func() {}
	switch cfg.Database.Backend {
	case config.BackendRPC:
		runner, err := rpcexec.NewRunner(rpcexec.Config{
			BaseURL:  cfg.Database.RPCBaseURL,
			APIKey:   cfg.Database.RPCAPIKey,
			Function: cfg.Database.RPCFunction,
			RowLimit: cfg.Database.RowLimit,
		}, nil)
		if err != nil {
			return nil, noop, err
		}
		return runner, noop, nil
	case config.BackendPostgres:
		db, err := postgresexec.Open(ctx, postgresexec.DBConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, noop, err
		}
		return postgresexec.NewRunner(db, cfg.Database.RowLimit), closeDB(db), nil
	case config.BackendDuckDB:
		db, err := duckdbexec.Open(cfg.Database.DuckDBPath)
		if err != nil {
			return nil, noop, err
		}
		return duckdbexec.NewRunner(db, cfg.Database.RowLimit), closeDB(db), nil
	default:
		return nil, noop, errors.New("invalid database backend: " + cfg.Database.Backend)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return memorystore.New(), noop, nil
	case config.StorePostgres:
		db, err := postgresstore.Open(ctx, postgresstore.DBConfig{
			DSN:          cfg.Store.DSN,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
		})
		if err != nil {
			return nil, noop, err
		}
		return postgresstore.New(db), closeDB(db), nil
	case config.StoreS3:
		st, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Store.Endpoint,
			Region:           cfg.Store.Region,
			Bucket:           cfg.Store.Bucket,
			AccessKeyID:      cfg.Store.AccessKeyID,
			SecretAccessKey:  cfg.Store.SecretAccessKey,
			UseSSL:           cfg.Store.UseSSL,
			Prefix:           cfg.Store.Prefix,
			AutoCreateBucket: cfg.Store.AutoCreateBucket,
		})
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil
	default:
		return nil, noop, errors.New("invalid store backend: " + cfg.Store.Backend)
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}
