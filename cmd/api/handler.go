package api

import (
	"net/http"

	accountDelivery "skillspring-backend/internal/account/delivery"
	applicationDelivery "skillspring-backend/internal/application/delivery"
	authDelivery "skillspring-backend/internal/auth/delivery"
	notificationDelivery "skillspring-backend/internal/notification/delivery"
	"skillspring-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	applicationHandler *applicationDelivery.ApplicationHandler
	accountHandler     *accountDelivery.AccountHandler
	webhookHandler     *notificationDelivery.WebhookHandler
	validator          authDelivery.TokenValidator
	corsOrigins        []string
	logger             *zap.Logger
}

func NewHandler(
	applicationHandler *applicationDelivery.ApplicationHandler,
	accountHandler *accountDelivery.AccountHandler,
	webhookHandler *notificationDelivery.WebhookHandler,
	validator authDelivery.TokenValidator,
	corsOrigins []string,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		applicationHandler: applicationHandler,
		accountHandler:     accountHandler,
		webhookHandler:     webhookHandler,
		validator:          validator,
		corsOrigins:        corsOrigins,
		logger:             log,
	}
}

// Router builds the gin engine with middleware and routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(h.logger))
	r.Use(corsMiddleware(h.corsOrigins))

	SetupRoutes(r, h)
	return r
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if _, ok := origins[origin]; ok || allowAll {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Vary", "Origin")
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-Id")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-Id")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
