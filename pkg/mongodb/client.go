package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	AppName        string        `yaml:"appName"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	MaxPoolSize    uint64        `yaml:"maxPoolSize"`
	MinPoolSize    uint64        `yaml:"minPoolSize"`

	Username string `yaml:"username"`
	Password string `yaml:"-"`
	AuthDB   string `yaml:"authDb"`

	// ReplicaSet is required for multi-document transactions.
	ReplicaSet string `yaml:"replicaSet"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		URI:            "mongodb://localhost:27017",
		Database:       "ledger",
		AppName:        "ledger-engine",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    5,
	}
}

// ReplicaSetConfigured reports whether the connection targets a replica set,
// which multi-document transactions require.
func (c *Config) ReplicaSetConfigured() bool {
	return c.ReplicaSet != "" || strings.Contains(c.URI, "replicaSet=")
}

func (c *Config) clientOptions() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(c.URI).
		SetAppName(c.AppName).
		SetConnectTimeout(c.ConnectTimeout).
		SetMaxPoolSize(c.MaxPoolSize).
		SetMinPoolSize(c.MinPoolSize)

	if c.Username != "" && c.Password != "" {
		opts.SetAuth(options.Credential{
			Username:   c.Username,
			Password:   c.Password,
			AuthSource: c.AuthDB,
		})
	}
	if c.ReplicaSet != "" {
		opts.SetReplicaSet(c.ReplicaSet)
	}
	return opts
}

// Client wraps the MongoDB client bound to one database.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	config   *Config
}

// NewClient connects and pings the primary before returning.
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	client, err := mongo.Connect(ctx, config.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return Wrap(client, config), nil
}

// Wrap adopts an already connected driver client, as created by test containers.
func Wrap(client *mongo.Client, config *Config) *Client {
	return &Client{
		client:   client,
		database: client.Database(config.Database),
		config:   config,
	}
}

// Database returns the database handle
func (c *Client) Database() *mongo.Database {
	return c.database
}

// Collection returns a collection handle
func (c *Client) Collection(name string) *mongo.Collection {
	return c.database.Collection(name)
}

// Client returns the underlying MongoDB client
func (c *Client) Client() *mongo.Client {
	return c.client
}

// Close disconnects the client
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// HealthCheck performs a health check on the MongoDB connection
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// WithTransaction runs fn inside a snapshot transaction committed with
// majority write concern, so a ledger change is durable once it returns. The
// driver retries fn on transient transaction errors, so fn must be safe to
// re-run.
func (c *Client) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := c.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	}, txnOpts)
	return err
}
