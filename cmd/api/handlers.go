package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/application"
	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/errors"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/middleware"
)

// Ledger is the engine surface the HTTP API serves.
type Ledger interface {
	ResolveCost(ctx context.Context, q application.CostQuery) (*application.CostQuote, error)
	ApplyInventoryChange(ctx context.Context, cmd application.ApplyChangeCommand) (*application.ChangeResult, error)
	ApplyBulk(ctx context.Context, cmds []application.ApplyChangeCommand) *application.BulkResult
	ReconcileReservations(ctx context.Context, cmd application.ReconcileCommand) (*application.ReconcileResult, error)
	FulfillReservations(ctx context.Context, cmd application.FulfillCommand) (*application.FulfillResult, error)
	ListMovements(ctx context.Context, q domain.MovementQuery) ([]application.MovementView, error)
}

type allocationRequest struct {
	LocationID string          `json:"locationId" binding:"required"`
	BatchID    string          `json:"batchId"`
	SerialNo   string          `json:"serialNo"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type lineRequest struct {
	LineNo              string              `json:"lineNo" binding:"required"`
	MaterialID          string              `json:"materialId" binding:"required"`
	UOM                 string              `json:"uom"`
	Allocations         []allocationRequest `json:"allocations" binding:"dive"`
	PreviousAllocations []allocationRequest `json:"previousAllocations" binding:"omitempty,dive"`
}

type documentRequest struct {
	DocumentType string `json:"documentType" binding:"required"`
	DocumentNo   string `json:"documentNo" binding:"required"`
	ReferenceNo  string `json:"referenceNo"`
	PlantID      string `json:"plantId" binding:"required"`
	Stage        string `json:"stage" binding:"required,document_stage"`
	Action       string `json:"action" binding:"document_action"`
	IsEdit       bool   `json:"isEdit"`
	UserID       string `json:"userId"`
}

type changeRequest struct {
	Document documentRequest `json:"document" binding:"required"`
	Lines    []lineRequest   `json:"lines" binding:"dive"`
}

type bulkRequest struct {
	Changes []changeRequest `json:"changes" binding:"required,min=1,dive"`
}

type costRequest struct {
	MaterialID    string          `json:"materialId" binding:"required"`
	BatchID       string          `json:"batchId"`
	PlantID       string          `json:"plantId" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	PriorConsumed decimal.Decimal `json:"priorConsumed"`
}

type reconcileRequest struct {
	PlantID string        `json:"plantId" binding:"required"`
	Lines   []lineRequest `json:"lines" binding:"dive"`
}

type deliveryRequest struct {
	LineNo     string          `json:"lineNo" binding:"required"`
	MaterialID string          `json:"materialId" binding:"required"`
	LocationID string          `json:"locationId" binding:"required"`
	BatchID    string          `json:"batchId"`
	SerialNo   string          `json:"serialNo"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type fulfillRequest struct {
	Deliveries []deliveryRequest `json:"deliveries" binding:"dive"`
}

func toAllocations(in []allocationRequest) []domain.Allocation {
	if in == nil {
		return nil
	}
	out := make([]domain.Allocation, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Allocation{LocationID: a.LocationID, BatchID: a.BatchID, SerialNo: a.SerialNo, Quantity: a.Quantity})
	}
	return out
}

func toLines(in []lineRequest) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(in))
	for _, l := range in {
		out = append(out, domain.LineItem{
			LineNo:              l.LineNo,
			MaterialID:          l.MaterialID,
			UOM:                 l.UOM,
			Allocations:         toAllocations(l.Allocations),
			PreviousAllocations: toAllocations(l.PreviousAllocations),
		})
	}
	return out
}

// toCommand fills the acting user from X-User-ID when the body omits it.
func (r changeRequest) toCommand(ctx context.Context) application.ApplyChangeCommand {
	userID := r.Document.UserID
	if userID == "" {
		userID = logging.UserIDFromContext(ctx)
	}
	action := domain.DocumentAction(r.Document.Action)
	if action == "" {
		action = domain.ActionDeduct
	}
	return application.ApplyChangeCommand{
		Document: domain.Document{
			DocumentType: r.Document.DocumentType,
			DocumentNo:   r.Document.DocumentNo,
			ReferenceNo:  r.Document.ReferenceNo,
			PlantID:      r.Document.PlantID,
			Stage:        domain.DocumentStage(r.Document.Stage),
			Action:       action,
			IsEdit:       r.Document.IsEdit,
			UserID:       userID,
		},
		Lines: toLines(r.Lines),
	}
}

type handlers struct {
	ledger Ledger
	logger *logging.Logger
}

func bind(c *gin.Context, obj interface{}) error {
	if appErr := middleware.BindAndValidate(c, obj); appErr != nil {
		return appErr
	}
	return nil
}

func (h *handlers) resolveCost(c *gin.Context) error {
	var req costRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	quote, err := h.ledger.ResolveCost(c.Request.Context(), application.CostQuery{
		MaterialID:    req.MaterialID,
		BatchID:       req.BatchID,
		PlantID:       req.PlantID,
		Quantity:      req.Quantity,
		PriorConsumed: req.PriorConsumed,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, quote)
	return nil
}

func (h *handlers) applyChange(c *gin.Context) error {
	var req changeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cmd := req.toCommand(c.Request.Context())
	result, err := h.ledger.ApplyInventoryChange(c.Request.Context(), cmd)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).WithDocument(cmd.Document.DocumentType, cmd.Document.DocumentNo).
			Warn("Inventory change failed", "error", err.Error())
		return err
	}
	c.JSON(http.StatusOK, result)
	return nil
}

func (h *handlers) applyBulk(c *gin.Context) error {
	var req bulkRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cmds := make([]application.ApplyChangeCommand, 0, len(req.Changes))
	for _, change := range req.Changes {
		cmds = append(cmds, change.toCommand(c.Request.Context()))
	}
	result := h.ledger.ApplyBulk(c.Request.Context(), cmds)

	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
	return nil
}

func (h *handlers) reconcileReservations(c *gin.Context) error {
	var req reconcileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.ledger.ReconcileReservations(c.Request.Context(), application.ReconcileCommand{
		DocumentType: c.Param("documentType"),
		DocumentNo:   c.Param("documentNo"),
		PlantID:      req.PlantID,
		Lines:        toLines(req.Lines),
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, result)
	return nil
}

func (h *handlers) fulfillReservations(c *gin.Context) error {
	var req fulfillRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	deliveries := make([]application.Delivery, 0, len(req.Deliveries))
	for _, d := range req.Deliveries {
		deliveries = append(deliveries, application.Delivery{
			LineNo:     d.LineNo,
			MaterialID: d.MaterialID,
			LocationID: d.LocationID,
			BatchID:    d.BatchID,
			SerialNo:   d.SerialNo,
			Quantity:   d.Quantity,
		})
	}
	result, err := h.ledger.FulfillReservations(c.Request.Context(), application.FulfillCommand{
		DocumentType: c.Param("documentType"),
		DocumentNo:   c.Param("documentNo"),
		Deliveries:   deliveries,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, result)
	return nil
}

func (h *handlers) listMovements(c *gin.Context) error {
	query := domain.MovementQuery{
		TransactionNo: c.Query("transactionNo"),
		ReferenceNo:   c.Query("referenceNo"),
	}
	if raw := c.Query("includeDeleted"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.ErrBadRequest("includeDeleted must be a boolean")
		}
		query.IncludeDeleted = include
	}
	if query.TransactionNo == "" && query.ReferenceNo == "" {
		return errors.ErrValidation("transactionNo or referenceNo is required")
	}

	views, err := h.ledger.ListMovements(c.Request.Context(), query)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"movements": views, "count": len(views)})
	return nil
}
