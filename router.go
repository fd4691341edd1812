package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/handler"
	"github.com/Amdecodes/DocServe-sub001/middleware"
)

func newRouter(cfg *config.Config, d deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health"))
	router.Use(corsMiddleware())
	router.Use(cacheMiddleware())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))

	timeout := cfg.Server.RequestTimeout
	authHandler := handler.NewAuthHandler()
	orderHandler := handler.NewOrderHandler(d.Orders, timeout, cfg.Fulfillment.AccessWindow)
	paymentHandler := handler.NewPaymentHandler(d.Payments, d.Webhooks, timeout)
	generateHandler := handler.NewGenerateHandler(d.Fulfiller, timeout)
	downloadHandler := handler.NewDownloadHandler(d.Gate, timeout)
	cleanupHandler := handler.NewCleanupHandler(d.Reaper)
	priceHandler := handler.NewPriceHandler(d.Prices)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.GET("/prices", priceHandler.List)
		api.GET("/payments/verify/:id", paymentHandler.Verify)
		api.POST("/payments/webhook", paymentHandler.Webhook)
		api.POST("/ai/generate", generateHandler.Generate)
		api.GET("/download", downloadHandler.Download)
	}

	cron := api.Group("/cron")
	cron.Use(middleware.CronAuth(&cfg.Cron))
	{
		cron.GET("/cleanup", cleanupHandler.Cleanup)
		cron.POST("/cleanup", cleanupHandler.Cleanup)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/orders", orderHandler.Create)
		protected.GET("/orders", orderHandler.List)
		protected.GET("/orders/:id", orderHandler.Get)
		protected.POST("/orders/:id/checkout", orderHandler.Checkout)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, X-Cron-Secret")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// cacheMiddleware keeps API responses out of shared caches. Handlers may
// override it for public data.
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
