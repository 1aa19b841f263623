package api

import (
	"net/http"

	authDelivery "skillspring-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	auth := authDelivery.AuthMiddleware(h.validator)

	api := r.Group("/api")
	{
		// Public
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))

		if h.webhookHandler != nil {
			api.POST("/gmail/webhook", h.webhookHandler.GmailWebhook)
		}

		applications := api.Group("/applications")
		applications.Use(auth)
		{
			applications.POST("/sync", h.applicationHandler.Sync)
			applications.GET("", h.applicationHandler.List)
			applications.GET("/categorized", h.applicationHandler.GetCategorized)
			applications.GET("/search", h.applicationHandler.Search)
			applications.GET("/insights", h.applicationHandler.GetInsights)
			applications.GET("/export", h.applicationHandler.Export)
			applications.DELETE("", h.applicationHandler.Purge)
		}

		accounts := api.Group("/accounts")
		accounts.Use(auth)
		{
			accounts.POST("/gmail", h.accountHandler.ConnectGmail)
			accounts.POST("/imap", h.accountHandler.ConnectIMAP)
			accounts.GET("/me", h.accountHandler.Me)
			accounts.DELETE("/me", h.accountHandler.Disconnect)
			accounts.POST("/watch", h.accountHandler.StartWatch)
		}

		fcm := api.Group("/fcm")
		fcm.Use(auth)
		{
			fcm.POST("/register", h.accountHandler.RegisterDevice)
			fcm.DELETE("/:token", h.accountHandler.UnregisterDevice)
		}
	}
}
