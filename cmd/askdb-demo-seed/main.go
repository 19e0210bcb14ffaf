package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/demo/seed"
)

func main() {
	_ = godotenv.Load()

	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	seeder, err := seed.NewSeeder(db, cfg.Backend, cfg.Drop, logger)
	if err != nil {
		logger.Error("failed to initialize seeder", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	logger.Info("demo seed started",
		slog.String("backend", cfg.Backend),
		slog.Int("customers", cfg.Customers),
		slog.Int("products", cfg.Products),
		slog.Int("orders", cfg.Orders),
		slog.Int64("seed", cfg.Seed),
	)

	dataset := seed.NewGenerator(cfg.Seed).Generate(cfg.Customers, cfg.Products, cfg.Orders)
	if err := seeder.Seed(ctx, dataset); err != nil {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo seed finished")
}

func openDatabase(cfg seed.Config) (*sql.DB, error) {
	if cfg.Backend == seed.BackendPostgres {
		return sql.Open("pgx", cfg.DSN)
	}
	return sql.Open("duckdb", cfg.DuckDBPath)
}
