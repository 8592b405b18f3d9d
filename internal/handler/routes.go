package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts probes and metrics at the root and the read-only API
// under prefix.
func RegisterRoutes(router gin.IRouter, prefix string, ops *OpsHandler) {
	router.GET("/health", ops.Health)
	router.GET("/ready", ops.Ready)
	router.GET("/metrics", ops.Metrics)

	api := router.Group(prefix)
	api.GET("/preview", ops.Preview)
	api.GET("/timetable", ops.Timetable)
	api.GET("/deliveries", ops.Deliveries)
}
