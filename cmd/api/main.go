package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/config"
	"github.com/alfanzaky/zkqueue/internal/bootstrap"
	apihandler "github.com/alfanzaky/zkqueue/internal/handler/api"
	"github.com/alfanzaky/zkqueue/internal/worker"
	"github.com/alfanzaky/zkqueue/pkg/auth"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.App.Environment, cfg.App.LogLevel)
	defer logger.Close()

	// Print configuration in development mode
	if cfg.App.IsDevelopment() {
		cfg.Print()
	}

	ctx := context.Background()

	store, err := bootstrap.OpenStore(ctx, cfg.Database, cfg.Queue.PageSize, cfg.Database.Migrate)
	if err != nil {
		logger.Fatal("Failed to open queue store", logger.ErrorField(err))
	}
	defer store.Close()

	notifier, err := bootstrap.NewNotifier(ctx, *cfg)
	if err != nil {
		logger.Fatal("Failed to initialize notifier", logger.ErrorField(err))
	}
	defer notifier.Close()

	mempoolUC, proverUC := bootstrap.Usecases(store, notifier, cfg.Queue)

	// Start background sweeper
	sweeper := worker.NewSweeper(mempoolUC, proverUC, worker.SweeperConfig{
		Interval:      cfg.Queue.SweepInterval,
		StuckTxMaxAge: cfg.Queue.StuckTxMaxAge,
		LeaseTimeout:  cfg.Queue.LeaseTimeout,
		ReclaimBatch:  cfg.Queue.ReclaimBatch,
	})
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go sweeper.Start(workerCtx)

	// Set Gin mode
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	authService := auth.NewJWTAuthService(cfg.Auth)

	checks := map[string]observability.ReadinessCheck{"database": store.Ping}
	if notifier.Ping != nil {
		checks["redis"] = notifier.Ping
	}
	metricsHandler := observability.NewMetricsHandler(cfg.App.Name, checks)

	router := apihandler.NewRouter(apihandler.Handlers{
		Mempool:     apihandler.NewMempoolHandler(mempoolUC),
		Prover:      apihandler.NewProverHandler(proverUC, cfg.Queue.LeaseTimeout),
		Auth:        apihandler.NewAuthHandler(authService),
		Metrics:     metricsHandler,
		AuthService: authService,
	}, cfg.API.MaxRequestSize)

	// Lease requests may long-poll up to MaxLeaseWait
	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout + cfg.Queue.MaxLeaseWait,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server",
			logger.String("port", cfg.App.Port),
			logger.String("environment", cfg.App.Environment),
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	workerCancel()

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server exited")
}
