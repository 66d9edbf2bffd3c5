package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/api"
	"github.com/wms-platform/ledger-engine/internal/application"
	"github.com/wms-platform/ledger-engine/internal/config"
	mongostore "github.com/wms-platform/ledger-engine/internal/infrastructure/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/contracts/asyncapi"
	"github.com/wms-platform/ledger-engine/pkg/contracts/openapi"
	"github.com/wms-platform/ledger-engine/pkg/idempotency"
	"github.com/wms-platform/ledger-engine/pkg/kafka"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	"github.com/wms-platform/ledger-engine/pkg/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/outbox"
	outboxmongo "github.com/wms-platform/ledger-engine/pkg/outbox/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/tracing"
)

func main() {
	logger := logging.New(logging.DefaultConfig(config.ServiceName))
	logger.SetDefault()
	logger.Info("Starting ledger-engine API")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := tracing.Initialize(ctx, cfg.Tracing)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	m := metrics.New(metrics.DefaultConfig(config.ServiceName))

	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDB)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	instrumentedMongo := mongodb.NewInstrumentedClient(mongoClient, m, logger)
	defer instrumentedMongo.Close(context.Background())
	logger.Info("Connected to MongoDB", "database", cfg.MongoDB.Database)

	if err := mongostore.EnsureIndexes(ctx, instrumentedMongo); err != nil {
		logger.WithError(err).Warn("Failed to ensure ledger indexes")
	}

	outboxRepo := outboxmongo.NewOutboxRepository(instrumentedMongo)
	if err := outboxRepo.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("Failed to ensure outbox indexes")
	}

	var eventValidator mongostore.EventValidator
	if cfg.Engine.ValidateEvents {
		v, err := asyncapi.NewEventValidatorFromBytes(api.AsyncAPI)
		if err != nil {
			logger.WithError(err).Error("Failed to load AsyncAPI contract")
			os.Exit(1)
		}
		eventValidator = v
	}

	engine := application.NewLedgerEngine(application.Dependencies{
		Materials:    mongostore.NewMaterialRepository(instrumentedMongo),
		Balances:     mongostore.NewBalanceStore(instrumentedMongo),
		Valuation:    mongostore.NewValuationStore(instrumentedMongo),
		Movements:    mongostore.NewMovementStore(instrumentedMongo),
		Reservations: mongostore.NewReservationStore(instrumentedMongo),
		Transactor:   mongostore.NewTransactor(instrumentedMongo),
		Events:       mongostore.NewOutboxEventPublisher(outboxRepo, cloudevents.NewEventFactory(cloudevents.SourceLedger), eventValidator),
	}, application.Options{
		UseTransactions:   cfg.Engine.UseTransactions,
		PublishEvents:     cfg.Engine.PublishEvents,
		CompensationRetry: &cfg.Engine.CompensationRetry,
	}, logger, m)

	producer, baseProducer := kafka.NewProductionProducer(cfg.Kafka, m, logger)
	defer baseProducer.Close()

	publisher := outbox.NewPublisher(outboxRepo, producer, logger, m, &outbox.PublisherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Retention:    cfg.Outbox.Retention,
	})
	if err := publisher.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		os.Exit(1)
	}
	defer publisher.Stop()
	logger.Info("Outbox publisher started", "topic", kafka.Topics.LedgerEvents)

	var contract *openapi.Validator
	if cfg.Server.ValidateRequests {
		contract, err = openapi.NewValidatorFromBytes(api.OpenAPI)
		if err != nil {
			logger.WithError(err).Error("Failed to load OpenAPI contract")
			os.Exit(1)
		}
	}

	var idempotencyHandler gin.HandlerFunc
	if cfg.Idempotency.Enabled {
		store := idempotency.NewMongoStore(instrumentedMongo)
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure idempotency indexes")
		}
		idemConfig := idempotency.DefaultConfig(config.ServiceName, store, logger)
		idemConfig.RequireKey = cfg.Idempotency.RequireKey
		idemConfig.RetentionPeriod = cfg.Idempotency.Retention
		idemConfig.LockTimeout = cfg.Idempotency.LockTimeout
		idemConfig.Metrics = m
		idempotencyHandler = idempotency.Middleware(idemConfig)
		go purgeIdempotencyKeys(ctx, store, logger)
	}

	router := newRouter(routerConfig{
		Ledger:      engine,
		Logger:      logger,
		Metrics:     m,
		Contract:    contract,
		Idempotency: idempotencyHandler,
		Ready: func(c *gin.Context) error {
			return instrumentedMongo.HealthCheck(c.Request.Context())
		},
		EnableTracing:  cfg.Tracing.Enabled,
		TrustedProxies: cfg.Server.TrustedProxies,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			stop()
		}
	}()
	logger.Info("Server started", "addr", cfg.Server.Addr)

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server stopped")
}

// purgeIdempotencyKeys removes expired keys hourly. The TTL index does the
// same eventually; this keeps the collection small between TTL passes.
func purgeIdempotencyKeys(ctx context.Context, store *idempotency.MongoStore, logger *logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Purge(ctx, time.Now().UTC())
			if err != nil {
				logger.WithError(err).Warn("Failed to purge idempotency keys")
				continue
			}
			if removed > 0 {
				logger.Info("Purged idempotency keys", "removed", removed)
			}
		}
	}
}
