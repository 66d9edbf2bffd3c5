package kafka

import (
	"time"
)

// Config holds Kafka producer configuration
type Config struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientId"`

	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"` // 0: none, 1: leader, -1: all replicas
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Brokers:      []string{"localhost:9092"},
		ClientID:     "ledger-engine",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,
	}
}

// Topics contains the Kafka topics the ledger engine writes to
var Topics = struct {
	LedgerEvents    string
	InventoryEvents string
}{
	LedgerEvents:    "wms.ledger.events",
	InventoryEvents: "wms.inventory.events",
}
