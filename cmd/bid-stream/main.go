package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/api/middleware"
	"auction-engine/internal/config"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/infrastructure/websocket"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

// bid-stream relays notification intents from Redis to websocket watchers.
// It reads auctions from MySQL and never writes.
func main() {
	bootLog := logger.New()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level).With("service", "bid-stream")
	if err := cfg.ValidateStream(); err != nil {
		log.Fatal("Invalid bid-stream config", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}

	// Initialize MySQL
	db, err := mysql.Open(ctx, cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to connect to MySQL", "error", err)
	}
	defer db.Close()
	store := mysql.NewMySQLAuctionStore(db)

	connManager := websocket.NewConnectionManager(log)
	eventListener := services.NewEventListener(connManager, log)
	subscriber := redis.NewEventSubscriber(rdb, cfg.Notifications.Channel, log)

	router := mux.NewRouter()
	router.Use(middleware.CORS(log))
	router.HandleFunc("/ws/auction/{auctionID}", websocket.NewStreamHandler(store, connManager, log).HandleConnection)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := eventListener.Start(runCtx, subscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("Event listener failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Starting bid stream", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bid stream...")
	stopRun()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Bid stream stopped")
}
