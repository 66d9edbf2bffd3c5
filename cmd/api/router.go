package main

import (
	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/internal/application"
	"github.com/wms-platform/ledger-engine/internal/config"
	"github.com/wms-platform/ledger-engine/pkg/contracts/openapi"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	"github.com/wms-platform/ledger-engine/pkg/middleware"
)

type routerConfig struct {
	Ledger  Ledger
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// Contract enables OpenAPI request validation when set.
	Contract *openapi.Validator
	// Idempotency guards POST /changes when set.
	Idempotency    gin.HandlerFunc
	Ready          func(c *gin.Context) error
	EnableTracing  bool
	TrustedProxies []string
}

func newRouter(rc routerConfig) *gin.Engine {
	router := gin.New()

	middleware.Setup(router, &middleware.Config{
		Logger:         rc.Logger.Logger,
		ServiceName:    config.ServiceName,
		Metrics:        rc.Metrics,
		ErrorMapper:    application.ToAppError,
		Contract:       rc.Contract,
		EnableTracing:  rc.EnableTracing,
		TrustedProxies: rc.TrustedProxies,
	})

	router.GET("/health", middleware.HealthCheck(config.ServiceName))
	ready := rc.Ready
	if ready == nil {
		ready = func(*gin.Context) error { return nil }
	}
	router.GET("/ready", middleware.ReadinessCheck(config.ServiceName, ready))
	if rc.Metrics != nil {
		router.GET("/metrics", middleware.MetricsEndpoint(rc.Metrics))
	}

	h := &handlers{ledger: rc.Ledger, logger: rc.Logger.WithComponent("http")}

	changeChain := []gin.HandlerFunc{}
	if rc.Idempotency != nil {
		changeChain = append(changeChain, rc.Idempotency)
	}
	changeChain = append(changeChain, middleware.WrapHandler(h.applyChange))

	v1 := router.Group("/api/v1/ledger")
	{
		v1.POST("/cost", middleware.WrapHandler(h.resolveCost))
		v1.POST("/changes", changeChain...)
		v1.POST("/changes/bulk", middleware.WrapHandler(h.applyBulk))
		v1.PUT("/reservations/:documentType/:documentNo", middleware.WrapHandler(h.reconcileReservations))
		v1.POST("/reservations/:documentType/:documentNo/fulfill", middleware.WrapHandler(h.fulfillReservations))
		v1.GET("/movements", middleware.WrapHandler(h.listMovements))
	}

	return router
}
