package api

import (
	"net/http"

	"subscription-api/internal/database"
	"subscription-api/internal/middleware"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators the HTTP layer dispatches to.
type Dependencies struct {
	Ingestor      *services.Ingestor
	Subscriptions *services.SubscriptionService
	Commissions   *services.CommissionService
	Sweeper       *services.Sweeper
	Store         *database.Store

	InternalAPIKey string
	PubSubAudience string
	// TokenValidator overrides Google OIDC validation, mainly for tests.
	TokenValidator middleware.TokenValidator
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer    prometheus.Gatherer
	ServiceName string
}

// Handler holds the wired services behind the routes.
type Handler struct {
	ingestor      *services.Ingestor
	subscriptions *services.SubscriptionService
	commissions   *services.CommissionService
	sweeper       *services.Sweeper
	store         *database.Store
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	h := &Handler{
		ingestor:      deps.Ingestor,
		subscriptions: deps.Subscriptions,
		commissions:   deps.Commissions,
		sweeper:       deps.Sweeper,
		store:         deps.Store,
	}

	r.Use(middleware.RequestID())

	// Platform webhooks (no api key, the stores call these)
	webhook := r.Group("/webhook")
	{
		webhook.POST("/apple", h.AppleNotification)
		webhook.POST("/google", middleware.PubSubAuthMiddleware(deps.PubSubAudience, deps.TokenValidator), h.GoogleNotification)
	}

	// Internal API for the rest of the product
	api := r.Group("/api")
	api.Use(middleware.InternalAuthMiddleware(deps.InternalAPIKey))
	{
		subscription := api.Group("/subscription")
		{
			subscription.GET("/status", h.GetSubscriptionStatus)
			subscription.GET("/valid", h.IsSubscriptionValid)
			subscription.POST("/create", h.CreateSubscription)
			subscription.POST("/verify", h.VerifyPurchase)
			subscription.POST("/cancel", h.CancelSubscription)
			subscription.GET("/products", h.ListProducts)
		}

		commission := api.Group("/commission")
		{
			commission.GET("/distributors/:id", h.DistributorCommission)
			commission.GET("/passcodes/:id", h.PasscodeCommission)
			commission.GET("/books/:id", h.BookCommission)
		}

		reports := api.Group("/reports")
		{
			reports.GET("/leaderboard", h.Leaderboard)
			reports.GET("/revenue-trend", h.RevenueTrend)
			reports.GET("/platforms", h.PlatformDistribution)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/sweep", h.RunSweep)
			admin.GET("/remediation", h.ListRemediation)
			admin.POST("/remediation/:id/replay", h.ReplayRemediation)
		}
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Health check
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "subscription-service"
	}
	r.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if deps.Store != nil {
			if sqlDB, err := deps.Store.DB().DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": serviceName,
		})
	})
}
