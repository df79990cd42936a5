package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/creatoria/clarifier/internal/clarify/service"
	"github.com/creatoria/clarifier/internal/common/logger"
	"github.com/creatoria/clarifier/internal/events/bus"
)

// SetupRoutes configures the clarification API routes
func SetupRoutes(router *gin.RouterGroup, svc *service.Service, log *logger.Logger) {
	handler := NewHandler(svc, log)

	clarifications := router.Group("/clarifications")
	{
		clarifications.POST("", handler.Clarify)
		clarifications.GET("/:sessionId", handler.GetSession)
		clarifications.POST("/:sessionId/reopen", handler.ReopenField)
		clarifications.DELETE("/:sessionId", handler.AbandonSession)
	}
}

// SetupHealthRoute registers the health endpoint on the engine root.
func SetupHealthRoute(router *gin.Engine, eventBus bus.EventBus) {
	router.GET("/health", func(c *gin.Context) {
		resp := HealthResponse{Status: "ok", EventBus: "connected"}
		if eventBus == nil || !eventBus.IsConnected() {
			resp.EventBus = "disconnected"
		}
		c.JSON(http.StatusOK, resp)
	})
}
