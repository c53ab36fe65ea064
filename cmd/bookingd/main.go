package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"booking-admin-backend/config"
	"booking-admin-backend/internal/api"
	"booking-admin-backend/internal/clock"
	"booking-admin-backend/internal/db"
	"booking-admin-backend/internal/evidence"
	"booking-admin-backend/internal/lock"
	"booking-admin-backend/internal/notification"
	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/service"
	"booking-admin-backend/internal/store"
	"booking-admin-backend/internal/sweeper"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "booking-backend ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Canonical reference timezone for all schedule resolution
	ck, err := clock.New(cfg.Booking.Timezone)
	if err != nil {
		logger.Fatalf("failed to initialize clock: %v", err)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.New(gormDB)
	logger.Println("data store initialized")

	checker := overlap.NewChecker(appStore, ck)
	locks := lock.NewManager(time.Duration(cfg.Lock.LeaseTTLSeconds) * time.Second)
	broadcaster := realtime.NewBroadcaster(cfg.Sync.SubscriberBuffer)

	var evidenceStore evidence.Store = evidence.NopStore{}
	if cfg.Evidence.Dir != "" {
		evidenceStore = &evidence.LocalStore{Root: cfg.Evidence.Dir}
	}

	// Background side-effect lane: webpush notifications and evidence cleanup
	workerPool := notification.NewWorkerPool(
		cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, cfg.WorkerPool.MaxAttempts,
		gormDB, &webpushOptions, evidenceStore,
	)
	workerPool.Start(ctx)

	svc := service.New(appStore, locks, ck, checker, broadcaster, workerPool)

	// Auto-finish sweep runs in the background
	sweepSvc := sweeper.NewService(appStore, ck, broadcaster, workerPool, cfg.Sweeper.Interval, cfg.Sweeper.Enabled)
	go sweepSvc.Run(ctx)

	// Initialize router
	router := api.NewRouter(svc, checker, broadcaster, appStore, &webpushOptions, api.RouterOptions{
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		CacheTTL:        time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
		Sync: realtime.ReconcilerConfig{
			StaleTolerance: time.Duration(cfg.Sync.StaleToleranceMS) * time.Millisecond,
			EchoWindow:     time.Duration(cfg.Sync.EchoWindowMS) * time.Millisecond,
			PendingGrace:   time.Duration(cfg.Sync.PendingGraceMS) * time.Millisecond,
		},
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
