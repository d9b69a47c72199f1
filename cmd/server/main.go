package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/api"
	"github.com/pgx-lims-server/internal/audit"
	"github.com/pgx-lims-server/internal/blob"
	"github.com/pgx-lims-server/internal/config"
	"github.com/pgx-lims-server/internal/database"
	"github.com/pgx-lims-server/internal/domain"
	"github.com/pgx-lims-server/internal/render"
	"github.com/pgx-lims-server/internal/repository"
	"github.com/pgx-lims-server/internal/service"
	"github.com/pgx-lims-server/pkg/signature"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	migrator, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrator.Up(ctx); err != nil {
		logger.Fatalf("Failed to apply migrations: %v", err)
	}
	migrator.Close()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Repositories
	requests := repository.NewRequestRepository(db.Pool, logger)
	reports := repository.NewReportRepository(db.Pool, logger)
	patients := repository.NewPatientRepository(db.Pool, logger)
	users := repository.NewUserRepository(db.Pool, logger)
	rules := repository.NewRulesRepository(db.Pool, logger)
	diplotypes := repository.NewDiplotypeRepository(db.Pool, logger)
	slas := repository.NewSLARepository(db.Pool, logger)

	// Supporting infrastructure
	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		logger.Fatalf("Failed to create blob store: %v", err)
	}

	renderer, err := render.NewRenderer(cfg.Render)
	if err != nil {
		logger.Fatalf("Failed to create renderer: %v", err)
	}

	auditStore, err := audit.NewSQLiteStore(cfg.Audit.Path)
	if err != nil {
		logger.Fatalf("Failed to open audit store: %v", err)
	}
	defer auditStore.Close()

	redisOpts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		logger.Fatalf("Invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	signatureClient := signature.NewClient(cfg.Signature.FetchTimeout, logger)
	signatures := signature.NewCachedFetcher(signatureClient, redisClient, cfg.Signature.CacheTTL, logger)

	// Services
	rulebook := service.NewRulebook(rules, cfg.Rulebook, logger)
	predictor := service.NewPredictor(rulebook, logger)
	assembler := service.NewReportAssembler(reports, diplotypes, patients, users, blobs, renderer, signatures, rulebook, logger)
	confirmations := service.NewConfirmationService(requests, users, predictor, assembler, auditStore, logger)
	tat := service.NewTATEvaluator(slas, logger)
	auth := service.NewAuthService(users, cfg.Auth, logger)

	server := api.NewServer(cfg, api.Deps{
		DB:            db,
		Auth:          auth,
		Confirmations: confirmations,
		Reports:       assembler,
		Predictor:     predictor,
		Rulebook:      rulebook,
		TAT:           tat,
		Requests:      requests,
		Patients:      patients,
		Blobs:         blobs,
		Audit:         auditStore,
	}, logger)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting PGx LIMS server")

	if err := server.Start(ctx); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
