package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/creatoria/clarifier/internal/clarify/api"
	"github.com/creatoria/clarifier/internal/clarify/repository"
	"github.com/creatoria/clarifier/internal/clarify/service"
	"github.com/creatoria/clarifier/internal/clarify/streaming"
	"github.com/creatoria/clarifier/internal/common/config"
	"github.com/creatoria/clarifier/internal/common/logger"
	"github.com/creatoria/clarifier/internal/events/bus"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting clarifier service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus. Without a NATS URL the service runs with the
	// in-process bus, which is enough for a single instance.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus")
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 5. Open the session store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open session store", zap.Error(err))
	}
	defer store.Close()
	log.Info("Session store ready", zap.String("backend", cfg.Store.Backend))

	// 6. Create the clarification service and start the idle-session reaper
	svc := service.NewService(store, eventBus, cfg.Session, log)
	svc.StartReaper(ctx)

	// 7. Start the WebSocket hub and bridge it to the event bus
	hub := streaming.NewHub(log)
	go hub.Run(ctx)
	hubSub, err := hub.Bridge(eventBus)
	if err != nil {
		log.Fatal("Failed to bridge event bus to WebSocket hub", zap.Error(err))
	}
	defer hubSub.Unsubscribe()

	// 8. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Recovery(log))
	router.Use(api.RequestLogger(log))
	router.Use(api.CORS())

	// 9. Register API routes
	v1 := router.Group("/api/v1")
	api.SetupRoutes(v1, svc, log)
	api.SetupHealthRoute(router, eventBus)

	wsHandler := streaming.NewWSHandler(hub, log)
	streaming.SetupWebSocketRoutes(router, wsHandler)

	// 10. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down clarifier service...")

	// 13. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	svc.Stop()

	log.Info("Clarifier service stopped")
}

// openStore creates the session store selected by configuration.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return repository.NewSQLiteStore(cfg.Store.SQLitePath)
	case "postgres":
		return repository.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
	default:
		return repository.NewMemoryStore(), nil
	}
}
