package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// MongoDBContainer wraps a single-node replica set, so transactions work.
type MongoDBContainer struct {
	Container *mongodb.MongoDBContainer
	URI       string
}

// NewMongoDBContainer starts mongo:6 as replica set "rs".
func NewMongoDBContainer(ctx context.Context) (*MongoDBContainer, error) {
	container, err := mongodb.Run(ctx, "mongo:6", mongodb.WithReplicaSet("rs"))
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &MongoDBContainer{Container: container, URI: uri}, nil
}

// Close terminates the MongoDB container.
func (m *MongoDBContainer) Close(ctx context.Context) error {
	if m.Container == nil {
		return nil
	}
	return testcontainers.TerminateContainer(m.Container, testcontainers.StopContext(ctx))
}

// Connect returns a client bound to database, wrapped the way the
// service wraps its own.
func (m *MongoDBContainer) Connect(ctx context.Context, database string) (*pkgmongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.URI).SetDirect(true))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	config := pkgmongo.DefaultConfig()
	config.URI = m.URI
	config.Database = database
	return pkgmongo.Wrap(client, config), nil
}
