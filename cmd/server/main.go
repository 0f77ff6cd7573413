package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/featuremart/internal/backfill"
	"github.com/rpattn/featuremart/internal/config"
	"github.com/rpattn/featuremart/internal/db"
	"github.com/rpattn/featuremart/internal/domain"
	"github.com/rpattn/featuremart/internal/ingest"
	"github.com/rpattn/featuremart/internal/metrics"
	"github.com/rpattn/featuremart/internal/middleware"
	"github.com/rpattn/featuremart/internal/pipeline"
	"github.com/rpattn/featuremart/internal/repository"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	schema := domain.DefaultSchema()
	if err := schema.Validate(); err != nil {
		logger.Fatal("invalid pipeline schema", zap.Error(err))
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Wire the pipeline
	sink := repository.NewPostgresWarehouse(conn.Pool, schema, cfg.Warehouse.Dataset)
	jobs := repository.NewIngestionJobRepository(conn.Pool, cfg.Warehouse.Dataset)
	reg := metrics.NewRegistry()
	service := pipeline.NewService(schema, sink, jobs, reg, logger, cfg.Pipeline.StrictReferences)
	handler := ingest.NewHandler(service, jobs, logger)
	uploads := backfill.NewHTTPHandler(backfill.NewLoader(schema, service, 500, logger))

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	logging := middleware.Logging(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/pubsub/push", handler.Push)
	mux.Handle("/backfill/upload", uploads)
	mux.HandleFunc("/jobs", handler.Jobs)
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      corsHandler.Handler(logging(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.Server.Addr()),
			zap.String("dataset", cfg.Warehouse.Dataset),
			zap.Bool("strict_references", cfg.Pipeline.StrictReferences))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
