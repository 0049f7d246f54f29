package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/liderhq/payhub/internal/db"
	"github.com/liderhq/payhub/internal/events"
	"github.com/liderhq/payhub/internal/events/kafka"
	"github.com/liderhq/payhub/internal/handlers"
	"github.com/liderhq/payhub/internal/logger"
	"github.com/liderhq/payhub/internal/metrics"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository/postgres"
	"github.com/liderhq/payhub/internal/service/otp"
	"github.com/liderhq/payhub/internal/service/payment"
	"github.com/liderhq/payhub/internal/service/processor"
	"github.com/liderhq/payhub/internal/service/stats"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	reconciler *payment.Reconciler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize processor gateways
	gateways := make(map[string]processor.Gateway)
	if c.StripeAPIKey != "" {
		stripe, err := processor.NewStripeGateway(
			map[string]processor.StripeConfig{
				c.StripeRegion: {APIKey: c.StripeAPIKey, BaseURL: c.StripeBaseURL},
			},
			c.StripeRegion,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("error while creating stripe gateway. Err: %w", err)
		}
		gateways[models.MethodStripe] = stripe
	}
	if c.PaypalClientID != "" {
		gateways[models.MethodPaypal] = processor.NewPaypalGateway(processor.PaypalConfig{
			ClientID:     c.PaypalClientID,
			ClientSecret: c.PaypalClientSecret,
			BaseURL:      c.PaypalBaseURL,
		}, log)
	}

	// Activation codes live in redis when configured
	var codes otp.Store = otp.NewMemoryStore()
	if c.RedisAddr != "" {
		codes = otp.NewRedisStore(redis.NewClient(&redis.Options{Addr: c.RedisAddr}))
	}

	// Resolved-transaction events
	var publisher events.Publisher
	if brokers := c.Brokers(); len(brokers) > 0 {
		publisher = kafka.NewPublisher(brokers)
	}

	m := metrics.New()

	// Initialize services
	engine := payment.NewEngine(payment.Config{}, storage, gateways, codes, publisher, m, log)
	reports := stats.NewService(storage.Transaction())

	router := handlers.NewRouter(handlers.RouterConfig{
		SecretKey:     c.SecretKey,
		InternalToken: c.InternalToken,
	}, engine, engine, reports, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		reconciler: payment.NewReconciler(engine, log),
	}, nil
}

// Run starts the http server and the reconciler and closes both gracefully on
// context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	reconcilerStopped := s.reconciler.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-reconcilerStopped

	return err
}
