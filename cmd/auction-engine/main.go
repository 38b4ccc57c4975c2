package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/api/handlers"
	"auction-engine/internal/clock"
	"auction-engine/internal/config"
	"auction-engine/internal/core"
	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/boltdb"
	"auction-engine/internal/infrastructure/leader"
	"auction-engine/internal/infrastructure/memory"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	bootLog := logger.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level).With("instance_id", cfg.Instance.ID)
	log.Info("Starting auction engine", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize storage
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open auction store", "driver", cfg.Store.Driver, "error", err)
	}
	defer closeStore()

	// Initialize collaborators
	var (
		notifier       domain.Notifier            = services.NewLogNotifier(log)
		payments       domain.SettlementPublisher = services.NewLogNotifier(log)
		leaderElection domain.LeaderElection
		tiers          []domain.IncrementTier
	)
	tiers, err = cfg.Bidding.Rules().Tiers()
	if err != nil {
		log.Fatal("Invalid increment rules", "error", err)
	}

	if cfg.Redis.Enabled {
		rdb := redisClient.NewClient(&redisClient.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		log.Info("Connected to Redis", "address", cfg.Redis.Address)

		notifier = redis.NewEventPublisher(rdb, cfg.Notifications.Channel)
		payments = redis.NewSettlementPublisher(rdb, cfg.Notifications.SettlementQueue)

		var rules domain.IncrementRules = redis.NewIncrementRules(rdb, cfg.Bidding.Rules())
		if err := rules.LoadRules(ctx); err != nil {
			log.Fatal("Failed to load increment rules", "error", err)
		}
		tiers = rules.Tiers()

		if cfg.Leader.Enabled {
			leaderElection = leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL)
		}
	}

	// Initialize services
	clk := clock.Real{}
	validator := core.NewValidator(core.Policy{
		AllowSelfOutbid: cfg.Bidding.AllowSelfOutbid,
		Tiers:           tiers,
	})
	auctionManager := services.NewAuctionManager(store, clk, cfg.Bidding.MaxRetries, log)
	bidService := services.NewBidService(store, notifier, validator, clk, services.BidServiceConfig{
		MaxRetries: cfg.Bidding.MaxRetries,
		SoftClose:  cfg.Bidding.SoftClose,
	}, log)
	settlement := services.NewSettlementCoordinator(store, notifier, payments, clk, cfg.Bidding.MaxRetries, log)
	scheduler := services.NewClosingScheduler(store, auctionManager, settlement, leaderElection, clk, services.SchedulerConfig{
		Spec:         cfg.Scheduler.Spec,
		SweepTimeout: cfg.Scheduler.SweepTimeout,
		BatchSize:    cfg.Scheduler.BatchSize,
		Concurrency:  cfg.Scheduler.Concurrency,
		InstanceID:   cfg.Instance.ID,
	}, log)

	// Initialize Echo
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
			handlers.HeaderUserID,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Debug("Request handled",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"latency", time.Since(start))
			return err
		}
	})

	handlers.NewAuctionHandler(auctionManager, bidService, cfg.Bidding.SubmitTimeout, log).Register(e.Group("/api/v1"))
	e.GET("/health", handlers.Health("auction-engine", cfg.Store.Driver))

	// Start background services
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if err := scheduler.Start(runCtx); err != nil {
		log.Fatal("Failed to start scheduler", "error", err)
	}

	go func() {
		log.Info("Starting HTTP server", "address", cfg.Server.Addr())
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction engine...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	stopRun()
	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}

	log.Info("Auction engine stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (domain.AuctionStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("Using in-memory auction store; state is lost on restart")
		return memory.NewAuctionStore(), func() {}, nil

	case "bolt":
		s, err := boltdb.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Opened bolt auction store", "path", cfg.Store.BoltPath)
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error("Failed to close bolt store", "error", err)
			}
		}, nil

	default:
		db, err := mysql.Open(ctx, cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		s := mysql.NewMySQLAuctionStore(db)
		if cfg.MySQL.Migrate {
			if err := s.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		log.Info("Connected to MySQL")
		return s, func() {
			if err := db.Close(); err != nil {
				log.Error("Failed to close MySQL connection", "error", err)
			}
		}, nil
	}
}
