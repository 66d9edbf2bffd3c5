package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/contracts/asyncapi"
	"github.com/wms-platform/ledger-engine/pkg/contracts/openapi"
)

func TestAsyncAPI_CoversEveryLedgerEvent(t *testing.T) {
	v, err := asyncapi.NewEventValidatorFromBytes(AsyncAPI)
	require.NoError(t, err)

	assert.Equal(t, []string{
		cloudevents.InventoryChangeApplied,
		cloudevents.InventoryChangeCompensated,
		cloudevents.ReservationsReconciled,
	}, v.SupportedEventTypes())
	assert.False(t, v.HasSchema("ledger.inventory.transferred"))

	err = v.Validate(cloudevents.InventoryChangeApplied, cloudevents.InventoryChangeAppliedData{
		DocumentType: "GD", DocumentNo: "GD-1", TransactionNo: "GD-1", Stage: "COMPLETED", PlantID: "P1",
		Movements: []cloudevents.MovementSummary{{
			MovementID: "m1", MaterialID: "M-1", LocationID: "L1",
			Direction: "OUT", Category: "UNRESTRICTED", BaseQty: "8", UnitPrice: "2.375",
		}},
	})
	assert.NoError(t, err)

	err = v.Validate(cloudevents.InventoryChangeApplied, cloudevents.InventoryChangeAppliedData{
		DocumentType: "GD", DocumentNo: "GD-1", Stage: "SHIPPED",
		Movements: []cloudevents.MovementSummary{},
	})
	assert.Error(t, err, "unknown stage is rejected")
}

func TestOpenAPI_ValidatesChangeRequests(t *testing.T) {
	v, err := openapi.NewValidatorFromBytes(OpenAPI)
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid",
			body: `{"document":{"documentType":"GD","documentNo":"GD-1","plantId":"P1","stage":"COMPLETED"},
				"lines":[{"lineNo":"1","materialId":"M-1","allocations":[{"locationId":"L1","quantity":"3"}]}]}`,
		},
		{
			name:    "missing document",
			body:    `{"lines":[]}`,
			wantErr: true,
		},
		{
			name:    "bad stage",
			body:    `{"document":{"documentType":"GD","documentNo":"GD-1","plantId":"P1","stage":"DONE"},"lines":[]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "http://localhost:8080/api/v1/ledger/changes", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			err := v.ValidateRequest(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
