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
	"marketplace-bidding/internal/config"
	"marketplace-bidding/internal/infrastructure/leader"
	"marketplace-bidding/internal/infrastructure/mysql"
	"marketplace-bidding/internal/infrastructure/redis"
	"marketplace-bidding/internal/services"
	"marketplace-bidding/pkg/logger"
	"marketplace-bidding/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting auction manager service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer rdb.Close()
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to connect to MySQL", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()
	log.Info("Connected to MySQL")

	// Initialize repositories
	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	outboxRepo := mysql.NewMySQLOutboxRepository(db)
	schedulerRepo := mysql.NewMySQLSchedulerRepository(db)

	// Initialize Redis based components
	stateCache := redis.NewRedisStateCache(rdb, cfg.Redis.StatusTTL)
	publisher := redis.NewNotificationPublisher(rdb, cfg.Redis.NotificationChannel)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL, log)

	relay := services.NewOutboxRelay(outboxRepo, publisher, services.OutboxRelayConfig{
		SweepInterval: cfg.Outbox.SweepInterval,
		BatchSize:     cfg.Outbox.BatchSize,
		QueueSize:     cfg.Outbox.QueueSize,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
	}, log)

	settings := services.SettingsFromConfig(cfg.Bidding)
	finalizer := services.NewAuctionFinalizer(auctionRepo, relay, settings, log)

	// The manager and the scheduler reference each other.
	auctionManager := services.NewAuctionManager(auctionRepo, stateCache, nil, finalizer, settings, log)
	scheduler := services.NewCronAuctionScheduler(schedulerRepo, auctionManager, leaderElection,
		cfg.Instance.ID, cfg.Scheduler.PollInterval, log)
	auctionManager.SetScheduler(scheduler)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			handlers.UserIDHeader,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			log.Info("Request served",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"latency", time.Since(start))
			return err
		}
	})

	auctionHandler := handlers.NewAuctionHandler(auctionManager, auctionRepo, log)
	auctionHandler.Register(e.Group("/api/v1"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-manager",
			"instance":  cfg.Instance.ID,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := relay.Start(runCtx); err != nil {
		log.Fatal("Failed to start outbox relay", "error", err)
	}
	if err := scheduler.Start(runCtx); err != nil {
		log.Fatal("Failed to start scheduler", "error", err)
	}

	go campaignForLeadership(runCtx, leaderElection, cfg.Instance.ID, log)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting auction manager server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction manager service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	if err := relay.Stop(); err != nil {
		log.Error("Failed to stop outbox relay", "error", err)
	}
	if err := leaderElection.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	stop()

	log.Info("Auction manager service stopped")
}

// campaignForLeadership keeps trying to take the scheduler lease until ctx ends.
func campaignForLeadership(ctx context.Context, election *leader.RedisLeaderElection, instanceID string, log logger.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		became, err := election.BecomeLeader(ctx, instanceID)
		if err != nil {
			log.Error("Failed to attempt leadership", "error", err)
		} else if became {
			log.Debug("Holding scheduler leadership", "instance_id", instanceID)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
