package main

import (
	"context"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/wms-platform/ledger-engine/api"
	"github.com/wms-platform/ledger-engine/internal/activities"
	"github.com/wms-platform/ledger-engine/internal/application"
	"github.com/wms-platform/ledger-engine/internal/config"
	mongostore "github.com/wms-platform/ledger-engine/internal/infrastructure/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/contracts/asyncapi"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	"github.com/wms-platform/ledger-engine/pkg/mongodb"
	outboxmongo "github.com/wms-platform/ledger-engine/pkg/outbox/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/temporal"
)

// The worker serves ledger activities. Events it raises land in the shared
// outbox collection and are relayed by the API process.
func main() {
	logger := logging.New(logging.DefaultConfig(config.ServiceName + "-worker"))
	logger.SetDefault()
	logger.Info("Starting ledger-engine worker")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	ctx := context.Background()

	m := metrics.New(metrics.DefaultConfig(config.ServiceName + "-worker"))

	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDB)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	instrumentedMongo := mongodb.NewInstrumentedClient(mongoClient, m, logger)
	defer instrumentedMongo.Close(context.Background())
	logger.Info("Connected to MongoDB", "database", cfg.MongoDB.Database)

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
		Events: mongostore.NewOutboxEventPublisher(
			outboxmongo.NewOutboxRepository(instrumentedMongo),
			cloudevents.NewEventFactory(cloudevents.SourceLedger),
			eventValidator,
		),
	}, application.Options{
		UseTransactions:   cfg.Engine.UseTransactions,
		PublishEvents:     cfg.Engine.PublishEvents,
		CompensationRetry: &cfg.Engine.CompensationRetry,
	}, logger, m)

	temporalClient, err := temporal.NewClient(ctx, cfg.Temporal, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create Temporal client")
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("Connected to Temporal", "hostPort", cfg.Temporal.HostPort)

	w := temporalClient.NewWorker(temporal.DefaultWorkerOptions(cfg.Temporal.TaskQueue))
	w.RegisterActivity(activities.NewLedgerActivities(engine, logger, m))
	logger.Info("Registered activities", "taskQueue", cfg.Temporal.TaskQueue)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.WithError(err).Error("Worker failed")
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
