package api

import (
	"github.com/gin-gonic/gin"
	"github.com/storyforge/metering/internal/api/cron"
	v1 "github.com/storyforge/metering/internal/api/v1"
	"github.com/storyforge/metering/internal/config"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/rest/middleware"
	"github.com/storyforge/metering/internal/webhook"
)

// Handlers collects every HTTP handler wired into the router.
type Handlers struct {
	Metering *v1.MeteringHandler
	Tenant   *v1.TenantHandler
	Sweep    *cron.SweepHandler
	Webhook  *webhook.Handler
}

// NewRouter builds the gin engine with all routes and middleware registered.
func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(middleware.ContextMiddleware())
	router.Use(middleware.AdminOverrideMiddleware(cfg.Server.AdminToken))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Billing provider callbacks. Signature verification happens inside the
	// handler so the raw body is available for it.
	router.POST("/webhooks/billing", handlers.Webhook.HandleBillingEvent)

	v1Group := router.Group("/v1")
	{
		metering := v1Group.Group("/metering")
		{
			metering.POST("/reserve", handlers.Metering.Reserve)
			metering.POST("/commit", handlers.Metering.Commit)
			metering.POST("/release", handlers.Metering.Release)
			metering.POST("/spend", handlers.Metering.Spend)
		}

		tenants := v1Group.Group("/tenants")
		{
			tenants.POST("", handlers.Tenant.CreateTenant)
			tenants.GET("/:id", handlers.Tenant.GetTenant)
			tenants.GET("/:id/snapshot", handlers.Metering.GetSnapshot)
			tenants.GET("/:id/audit-log", handlers.Metering.GetAuditLog)
			tenants.POST("/:id/credits", handlers.Tenant.GrantCredit)
			tenants.PUT("/:id/seats", handlers.Tenant.UpdateSeats)
		}
	}

	cronGroup := router.Group("/cron")
	{
		cronGroup.POST("/rollover", handlers.Sweep.Rollover)
		cronGroup.POST("/grace", handlers.Sweep.Grace)
		cronGroup.POST("/expiry", handlers.Sweep.PackExpiry)
		cronGroup.POST("/reservations", handlers.Sweep.Reservations)
	}

	return router
}
