package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/wms-platform/ledger-engine/pkg/logging"
)

// Config holds Temporal client configuration
type Config struct {
	HostPort  string `yaml:"hostPort"`
	Namespace string `yaml:"namespace"`
	Identity  string `yaml:"identity"`
	TaskQueue string `yaml:"taskQueue"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HostPort:  "localhost:7233",
		Namespace: "default",
		Identity:  "ledger-worker",
		TaskQueue: TaskQueues.Ledger,
	}
}

// TaskQueues names the queues ledger work is scheduled on.
var TaskQueues = struct {
	Ledger string
}{
	Ledger: "ledger-engine-queue",
}

// ActivityNames are the registered names of the ledger activities.
var ActivityNames = struct {
	ApplyInventoryChange  string
	ReconcileReservations string
	FulfillReservations   string
	ResolveCost           string
}{
	ApplyInventoryChange:  "ApplyInventoryChange",
	ReconcileReservations: "ReconcileReservations",
	FulfillReservations:   "FulfillReservations",
	ResolveCost:           "ResolveCost",
}

// Client wraps the Temporal client.
type Client struct {
	client client.Client
	config *Config
}

// NewClient dials the frontend. SDK logs go through logger.
func NewClient(ctx context.Context, config *Config, logger *logging.Logger) (*Client, error) {
	options := client.Options{
		HostPort:  config.HostPort,
		Namespace: config.Namespace,
		Identity:  config.Identity,
	}
	if logger != nil {
		options.Logger = tlog.NewStructuredLogger(logger.WithComponent("temporal").Logger)
	}

	c, err := client.DialContext(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create Temporal client: %w", err)
	}

	return &Client{client: c, config: config}, nil
}

// Client returns the underlying Temporal client
func (c *Client) Client() client.Client {
	return c.client
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}

// WorkerOptions contains options for creating a worker
type WorkerOptions struct {
	TaskQueue                    string
	MaxConcurrentActivityPollers int
	MaxConcurrentActivities      int
	// WorkerStopTimeout bounds how long in-flight activities may run after Stop.
	WorkerStopTimeout time.Duration
}

// DefaultWorkerOptions returns default worker options
func DefaultWorkerOptions(taskQueue string) *WorkerOptions {
	return &WorkerOptions{
		TaskQueue:                    taskQueue,
		MaxConcurrentActivityPollers: 4,
		MaxConcurrentActivities:      50,
		WorkerStopTimeout:            30 * time.Second,
	}
}

// NewWorker creates an activity worker.
func (c *Client) NewWorker(opts *WorkerOptions) worker.Worker {
	return worker.New(c.client, opts.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: opts.MaxConcurrentActivities,
		MaxConcurrentActivityTaskPollers:   opts.MaxConcurrentActivityPollers,
		WorkerStopTimeout:                  opts.WorkerStopTimeout,
	})
}

// DefaultActivityOptions returns the options workflows use to schedule ledger
// activities. Errors of the listed types are not retried.
func DefaultActivityOptions(nonRetryable ...string) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		TaskQueue:           TaskQueues.Ledger,
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: nonRetryable,
		},
	}
}
