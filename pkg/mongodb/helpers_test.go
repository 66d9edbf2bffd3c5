package mongodb

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecimal128_PreservesScale(t *testing.T) {
	for _, in := range []string{"0", "2.375", "-12.5", "1234567.8912", "0.0001"} {
		t.Run(in, func(t *testing.T) {
			d := decimal.RequireFromString(in)
			assert.True(t, d.Equal(Decimal(Decimal128(d))))
		})
	}
}

func TestDecimal_NaNReadsAsZero(t *testing.T) {
	nan, err := primitive.ParseDecimal128("NaN")
	require.NoError(t, err)
	assert.True(t, Decimal(nan).IsZero())
}

func TestBuildUpdateWithTimestamp(t *testing.T) {
	update := BuildUpdateWithTimestamp(bson.M{"status": "FULFILLED"})

	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "FULFILLED", set["status"])
	assert.Contains(t, set, "updatedAt")
}

func TestConfig_ReplicaSetConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   bool
	}{
		{"standalone", Config{URI: "mongodb://localhost:27017"}, false},
		{"uri option", Config{URI: "mongodb://mongo:27017/?replicaSet=rs0"}, true},
		{"explicit", Config{URI: "mongodb://mongo:27017", ReplicaSet: "rs0"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.ReplicaSetConfigured())
		})
	}
}

func TestConfig_ClientOptions(t *testing.T) {
	config := DefaultConfig()
	config.Username = "ledger"
	config.Password = "secret"
	config.ReplicaSet = "rs0"

	opts := config.clientOptions()
	require.NotNil(t, opts.Auth)
	assert.Equal(t, "ledger", opts.Auth.Username)
	require.NotNil(t, opts.ReplicaSet)
	assert.Equal(t, "rs0", *opts.ReplicaSet)
	require.NotNil(t, opts.AppName)
	assert.Equal(t, "ledger-engine", *opts.AppName)
}
