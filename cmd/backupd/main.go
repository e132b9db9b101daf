package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorenh/backupd/internal/api"
	"github.com/sorenh/backupd/internal/config"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/db"
	"github.com/sorenh/backupd/internal/dump"
	"github.com/sorenh/backupd/internal/logging"
	"github.com/sorenh/backupd/internal/metrics"
	"github.com/sorenh/backupd/internal/pipeline"
	"github.com/sorenh/backupd/internal/retention"
	"github.com/sorenh/backupd/internal/scheduler"
	"github.com/sorenh/backupd/internal/storage"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "create-api-key":
			createAPIKey(os.Args[2:])
			return
		case "create-admin":
			createAdmin(os.Args[2:])
			return
		}
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	seedFlag := flag.String("seed", "", "Seed file to apply before starting (YAML)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	services := core.NewServices(pool)

	if *seedFlag != "" {
		if err := runSeed(ctx, services, *seedFlag, logger); err != nil {
			logger.Fatal().Err(err).Str("file", *seedFlag).Msg("seeding failed")
		}
	}

	drivers := dump.NewRegistry()
	ret := retention.NewEngine(services.Execution, services.StorageLocation, storage.Open, logger)
	pl := pipeline.New(services, drivers, ret, storage.Open, cfg.SpoolDir, logger)
	sched := scheduler.New(services, pl, logger)
	prober := scheduler.NewProber(services, drivers, storage.Open, logger)

	go sched.Run(ctx)
	go prober.Run(ctx)

	srv := api.NewServer(logger, pool, cfg, services, pl, sched, storage.Open)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting backupd API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func connect(ctx context.Context) *pgxpool.Pool {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	return pool
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: backupd create-api-key --name <name>")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := connect(ctx)
	defer pool.Close()

	svc := core.NewAPIKeyService(pool)
	key, rawKey, err := svc.Create(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key - it will not be shown again.\n")
}

func createAdmin(args []string) {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	username := fs.String("username", "", "Administrator username (required)")
	password := fs.String("password", "", "Administrator password (falls back to ADMIN_PASSWORD)")
	fs.Parse(args)

	if *password == "" {
		*password = os.Getenv("ADMIN_PASSWORD")
	}
	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "error: --username and --password are required")
		fmt.Fprintln(os.Stderr, "usage: backupd create-admin --username <name> --password <password>")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := connect(ctx)
	defer pool.Close()

	svc := core.NewAdminUserService(pool)
	u, err := svc.Create(ctx, *username, *password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Administrator %s created (id %s).\n", u.Username, u.ID)
}
