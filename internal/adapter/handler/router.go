package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the HTTP server in traces.
const ServiceName = "shoe-store"

// NewRouter mounts the storefront, admin and health routes.
func NewRouter(h *HTTPHandler, auth *AdminAuth, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(ServiceName), requestLogger(log))

	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	api.POST("/orders", h.PlaceOrder)
	api.GET("/orders/track", h.TrackOrder)
	api.GET("/orders/:orderNumber", h.GetOrderByNumber)
	api.GET("/products/stock", h.GetProductsStock)
	api.GET("/products/:id/stock", h.GetProductStock)

	api.POST("/admin/login", auth.Login)
	api.POST("/admin/logout", auth.Logout)
	api.GET("/admin/session", auth.Session)

	admin := api.Group("/admin", auth.RequireAdmin())
	admin.GET("/orders", h.ListOrders)
	admin.GET("/orders/:id", h.GetOrder)
	admin.PUT("/orders/:id", h.UpdateOrderStatus)
	admin.DELETE("/orders/:id", h.CancelOrder)
	admin.GET("/inventory", h.ListInventory)
	admin.POST("/inventory", h.SetInventory)
	admin.DELETE("/inventory", h.DeleteInventory)
	admin.POST("/inventory/bulk", h.BulkSetInventory)
	admin.POST("/inventory/sync-stock", h.SyncStock)

	return router
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Debug("request handled")
	}
}
