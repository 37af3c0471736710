package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-otel-demo/internal/cart"
	"github.com/joao-fontenele/storefront-otel-demo/internal/checkout"
	"github.com/joao-fontenele/storefront-otel-demo/internal/messaging"
	"github.com/joao-fontenele/storefront-otel-demo/internal/remote"
	"github.com/joao-fontenele/storefront-otel-demo/internal/stock"
	"github.com/joao-fontenele/storefront-otel-demo/internal/storefront"
	"github.com/joao-fontenele/storefront-otel-demo/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "storefront", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("storefront", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	catalogServiceURL := os.Getenv("CATALOG_SERVICE_URL")
	if catalogServiceURL == "" {
		logger.Error("CATALOG_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	carts, closeStore, err := openCartStore(ctx, getEnv("CART_BACKEND", "memory"))
	if err != nil {
		logger.Error("failed to open cart store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	client := remote.NewClient(catalogServiceURL, telemetry.NewHTTPClient(0), logger,
		remote.WithTimeout(getDuration(logger, "GATEWAY_TIMEOUT", 5*time.Second)),
	)
	validator := stock.NewValidator(client, logger)

	opts := []checkout.Option{
		checkout.WithConcurrency(getInt(logger, "CHECKOUT_CONCURRENCY", 1)),
		checkout.WithCustomerResolver(client),
	}

	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), checkout.Topic)
		defer func() { _ = producer.Close() }()
		opts = append(opts, checkout.WithPublisher(producer))
	}

	orchestrator, err := checkout.NewOrchestrator(carts, validator, client, logger, opts...)
	if err != nil {
		logger.Error("failed to create checkout orchestrator", "error", err)
		os.Exit(1)
	}

	service := storefront.NewService(carts, client, validator, orchestrator, logger)
	handler := storefront.NewHandler(service, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	port := getEnv("PORT", "8081")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      middleware.RequestID(middleware.Recoverer(telemetry.InstrumentHandler(mux, "storefront"))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func openCartStore(ctx context.Context, kind string) (cart.Store, func(), error) {
	switch kind {
	case "memory":
		return cart.NewMemoryStore(), func() {}, nil

	case "postgres":
		postgresURL := os.Getenv("POSTGRES_URL")
		if postgresURL == "" {
			return nil, nil, fmt.Errorf("POSTGRES_URL is required for the postgres cart store")
		}
		db, err := telemetry.ConnectPostgres(ctx, postgresURL)
		if err != nil {
			return nil, nil, err
		}
		return cart.NewPostgresStore(db), closer(db), nil

	case "redis":
		opts, err := redis.ParseURL(getEnv("REDIS_URL", "redis://localhost:6379/0"))
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return cart.NewRedisStore(client), func() { _ = client.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown CART_BACKEND %q", kind)
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warn("ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return d
}

func getInt(logger *slog.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("ignoring invalid integer", "key", key, "value", v)
		return fallback
	}
	return n
}
