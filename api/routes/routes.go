package routes

import (
	"net/http"

	"example.com/backstage/services/telemetry/api/handlers"

	"github.com/gin-gonic/gin"
)

// Handlers groups everything the router serves
type Handlers struct {
	Events  *handlers.EventHandler
	Devices *handlers.DeviceHandler
	Health  *handlers.HealthHandler
	Metrics http.Handler
}

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, h Handlers) {
	if h.Health != nil {
		r.GET("/health", h.Health.Health)
	}
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := r.Group("/api")

	if h.Events != nil {
		api.POST("/events", h.Events.IngestEvent)
	}

	if h.Devices != nil {
		devices := api.Group("/devices")
		{
			devices.GET("", h.Devices.ListDevices)
			devices.POST("", h.Devices.RegisterDevice)
			devices.GET("/:device_id", h.Devices.GetDevice)
			devices.PUT("/:device_id", h.Devices.UpdateDevice)
			devices.DELETE("/:device_id", h.Devices.DeleteDevice)
		}
	}
}
