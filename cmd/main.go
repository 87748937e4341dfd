package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mail-archive-search/internal/app"
	"mail-archive-search/internal/config"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/telemetry"
	"mail-archive-search/middleware"
	"mail-archive-search/routes"
	"mail-archive-search/services"

	"github.com/gin-gonic/gin"
)

const serviceName = "mail-archive-search"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	ctx := context.Background()

	if cfg.OTelEnabled {
		shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.OTelEndpoint, 1.0, logger.Logger)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			defer shutdownTracer(context.Background())
		}
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	a, err := app.New(ctx, cfg, metrics, logger.Logger)
	if err != nil {
		log.Fatal("Failed to initialize pipeline:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Error("Failed to close connections", "error", err)
		}
	}()

	dispatcher, stopDispatcher := a.Dispatcher()

	sweeper := services.NewEnrichmentSweeper(a.Repo, dispatcher, cfg.EnrichSweepInterval, logger.Logger)
	if err := sweeper.Start(); err != nil {
		logger.Error("Failed to start enrichment sweep", "error", err)
		sweeper = nil
	}

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	if cfg.OTelEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RequestSizeLimit(cfg.MaxUploadSize))

	var limiter gin.HandlerFunc
	if a.Redis != nil {
		limiter = middleware.RateLimitMiddleware(a.Redis, cfg.RateLimitReqs, cfg.RateLimitWindow)
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.APITokenSecret, a.Redis)
	if !authMiddleware.Enabled() {
		logger.Warn("API_TOKEN_SECRET not set, API is unauthenticated")
	}

	routes.SetupRoutes(router, &routes.Deps{
		Config:  cfg,
		Repo:    a.Repo,
		Storage: a.Storage,
		Imports: a.Imports(dispatcher),
		Search:  a.Search,
		Chat:    a.Chat,
		LLM:     a.LLM.Chat,
	}, authMiddleware, limiter)

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "store", cfg.StoreBackend, "llm", cfg.LLMProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if sweeper != nil {
		sweeper.Stop()
	}

	drained := make(chan struct{})
	go func() {
		stopDispatcher()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("Enrichment still running at shutdown; remaining mails stay pending for the next sweep")
	}

	logger.Info("Server exited")
}
