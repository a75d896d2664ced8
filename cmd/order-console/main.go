package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/drafts"
	"github.com/jogardn/order-console/internal/editlock"
	"github.com/jogardn/order-console/internal/events"
	"github.com/jogardn/order-console/internal/gateway"
	"github.com/jogardn/order-console/internal/sessions"
	ws "github.com/jogardn/order-console/internal/websocket"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Backend order API
	orderAPIURL := getEnv("ORDER_API_URL", "http://localhost:9090")

	// Optional infrastructure; empty value disables the integration.
	dbHost := getEnv("DB_HOST", "")
	redisAddr := getEnv("REDIS_ADDR", "")
	kafkaBrokers := getEnv("KAFKA_BROKERS", "")

	port := getEnv("ORDER_CONSOLE_PORT", "8080")

	gatewayClient := gateway.NewClient(orderAPIURL, logger)

	managerConfig := sessions.ManagerConfig{
		Gateway: gatewayClient,
		LockTTL: 30 * time.Minute,
	}

	// Draft persistence (Postgres)
	if dbHost != "" {
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "orderconsole")
		dbPassword := getEnv("DB_PASSWORD", "orderconsole")
		dbName := getEnv("DB_NAME", "orderconsole")

		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		for i := 0; i < 30; i++ {
			if err := db.Ping(); err == nil {
				logger.Info("Database connection established")
				break
			}
			logger.Info("Waiting for database...")
			time.Sleep(2 * time.Second)
		}

		draftRepo := drafts.NewRepository(db, logger)
		if err := draftRepo.EnsureSchema(); err != nil {
			logger.WithError(err).Fatal("Failed to create tables")
		}
		managerConfig.Drafts = draftRepo
	} else {
		logger.Info("DB_HOST not set, draft persistence disabled")
	}

	// Edit locks (Redis)
	if redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.Info("Redis connection established")
		managerConfig.Locker = editlock.NewRedisLocker(redisClient, logger)
	} else {
		logger.Info("REDIS_ADDR not set, cross-instance edit locks disabled")
	}

	// Order updated events (Kafka)
	if kafkaBrokers != "" {
		producer, err := events.NewKafkaProducer(kafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		managerConfig.Publisher = producer
	} else {
		logger.Info("KAFKA_BROKERS not set, order.updated events disabled")
	}

	// Live summary fan-out to console clients
	hub := ws.NewHub(logger)
	go hub.Run()
	managerConfig.Broadcaster = hub

	manager := sessions.NewManager(managerConfig, logger)
	handler := sessions.NewHandler(manager, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck(gatewayClient)).Methods("GET")
	router.HandleFunc("/ws", hub.HandleWebSocket)
	handler.Register(router)

	router.Use(loggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting order console")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Release edit locks and drop drafts for live sessions.
	manager.CloseAll()

	logger.Info("Server gracefully stopped")
}

func healthCheck(gatewayClient *gateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"order-console","order_api_breaker":"%s"}`,
			gatewayClient.BreakerMetrics()["state"])
	}
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Info("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
