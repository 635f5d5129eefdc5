package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/auth"
	"github.com/foresight-inc/foresight-engine/pkg/config"
	"github.com/foresight-inc/foresight-engine/pkg/database"
	"github.com/foresight-inc/foresight-engine/pkg/handlers"
	"github.com/foresight-inc/foresight-engine/pkg/llm"
	"github.com/foresight-inc/foresight-engine/pkg/middleware"
	"github.com/foresight-inc/foresight-engine/pkg/repositories"
	"github.com/foresight-inc/foresight-engine/pkg/services"
	"github.com/foresight-inc/foresight-engine/pkg/timeline"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.String("model", cfg.AI.Model),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification))

	ctx := context.Background()

	// Migrations run over database/sql; the service itself uses the pgx pool.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	cache, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if cache == nil {
		logger.Info("Redis not configured, popular-listing cache disabled")
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}

	llmClient, err := llm.NewClient(&llm.Config{
		Endpoint:  cfg.AI.BaseURL,
		Model:     cfg.AI.Model,
		APIKey:    cfg.AI.APIKey,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.Timeout(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create completion client", zap.Error(err))
	}

	synthesizer := timeline.NewSynthesizer(llmClient, timeline.SynthesizerConfig{
		Temperature: cfg.AI.Temperature,
		YearsBack:   cfg.Synthesis.YearsBack,
	}, logger)
	reprocessor := timeline.NewReprocessor(llmClient, cfg.AI.Temperature, logger)

	repo := repositories.NewTimelineRepository(db)
	timelineService := services.NewTimelineService(
		repo, synthesizer, reprocessor, cache, cfg.Synthesis.PopularCacheTTL(), logger)

	authMiddleware := auth.NewMiddleware(jwksClient, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewTimelineHandler(timelineService, logger).RegisterRoutes(mux, authMiddleware)

	var handler http.Handler = mux
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler(handler)
	}

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(handler),
	}

	go func() {
		logger.Info("Starting foresight-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// buildLogger returns a production logger except in local development, where
// console output is friendlier.
func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
