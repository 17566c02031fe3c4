package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-bidding/internal/api/handlers"
	"marketplace-bidding/internal/api/middleware"
	"marketplace-bidding/internal/config"
	"marketplace-bidding/internal/infrastructure/mysql"
	"marketplace-bidding/internal/infrastructure/redis"
	"marketplace-bidding/internal/infrastructure/websocket"
	"marketplace-bidding/internal/services"
	"marketplace-bidding/pkg/logger"
	"marketplace-bidding/pkg/utils"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to connect to MySQL", "error", err)
	}
	defer db.Close()

	// Initialize repositories
	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	outboxRepo := mysql.NewMySQLOutboxRepository(db)

	// Initialize Redis services
	stateCache := redis.NewRedisStateCache(rdb, cfg.Redis.StatusTTL)
	publisher := redis.NewNotificationPublisher(rdb, cfg.Redis.NotificationChannel)
	subscriber := redis.NewRedisEventSubscriber(rdb, cfg.Redis.NotificationChannel, log)

	// Committed notifications go out through Redis so every instance can
	// reach the sockets it holds.
	relay := services.NewOutboxRelay(outboxRepo, publisher, services.OutboxRelayConfig{
		SweepInterval: cfg.Outbox.SweepInterval,
		BatchSize:     cfg.Outbox.BatchSize,
		QueueSize:     cfg.Outbox.QueueSize,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
	}, log)
	engine := services.NewBidEngine(auctionRepo, relay, log)

	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)
	eventListener := services.NewEventListener(notifier, connManager, log)

	router := mux.NewRouter()
	router.Use(middleware.CORSWithLogging(log))

	api := router.PathPrefix("/api/v1").Subrouter()
	handlers.NewBidHandler(engine, log).Register(api)
	handlers.NewWebSocketHandlers(engine, auctionRepo, stateCache, connManager, log).Register(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := relay.Start(runCtx); err != nil {
		log.Fatal("Failed to start outbox relay", "error", err)
	}

	go func() {
		if err := eventListener.Start(runCtx, subscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Event listener stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting bidding service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := relay.Stop(); err != nil {
		log.Error("Failed to stop outbox relay", "error", err)
	}
	stop()

	log.Info("Bidding service stopped")
}
