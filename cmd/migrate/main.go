package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wms-platform/ledger-engine/internal/config"
	mongostore "github.com/wms-platform/ledger-engine/internal/infrastructure/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/idempotency"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/mongodb"
	outboxmongo "github.com/wms-platform/ledger-engine/pkg/outbox/mongodb"
)

// Creates the indexes of every ledger collection. Connection settings come
// from the service configuration.

var dryRun = flag.Bool("dry-run", false, "List the indexes without creating them")

func main() {
	flag.Parse()

	logger := logging.New(logging.DefaultConfig(config.ServiceName + "-migrate"))

	if *dryRun {
		printPlan()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := mongodb.NewClient(ctx, cfg.MongoDB)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	instrumented := mongodb.NewInstrumentedClient(client, nil, logger)
	defer instrumented.Close(context.Background())

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"ledger", func(ctx context.Context) error { return mongostore.EnsureIndexes(ctx, instrumented) }},
		{"outbox", outboxmongo.NewOutboxRepository(instrumented).EnsureIndexes},
		{"idempotency", idempotency.NewMongoStore(instrumented).EnsureIndexes},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			logger.WithError(err).Error("Index migration failed", "step", step.name)
			os.Exit(1)
		}
		logger.Info("Indexes ensured", "step", step.name)
	}
	logger.Info("Migration completed", "database", cfg.MongoDB.Database)
}

func printPlan() {
	for _, plan := range mongostore.IndexPlan() {
		for _, model := range plan.Models {
			fmt.Printf("%s\t%s\n", plan.Collection, mongostore.IndexName(model))
		}
	}
	for _, model := range outboxmongo.Indexes() {
		fmt.Printf("%s\t%s\n", outboxmongo.DefaultCollectionName, mongostore.IndexName(model))
	}

	store := &idempotency.MongoStore{}
	for _, model := range store.Indexes() {
		fmt.Printf("%s\t%s\n", idempotency.CollectionName, mongostore.IndexName(model))
	}
}
