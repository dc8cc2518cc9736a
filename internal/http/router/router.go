package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"refinery.app/engine/internal/http/handler"
	"refinery.app/engine/internal/http/middleware"
	"refinery.app/engine/internal/orchestrator"
)

// RouterConfig carries the options SetupRoutes needs beyond the
// orchestrator itself.
type RouterConfig struct {
	IsProduction bool
	AdminAPIKey  string
}

// SetupRoutes wires every endpoint from §6 onto router.
func SetupRoutes(router *gin.Engine, orch *orchestrator.Orchestrator, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	refineHandler := handler.NewRefineHandler(orch)
	memoryHandler := handler.NewMemoryHandler(orch)

	api := router.Group("/api")
	{
		api.POST("/refine-requirements", refineHandler.Create)
		api.POST("/refine-requirements/stream", refineHandler.Stream)
		api.GET("/refine-requirements/schema", refineHandler.Schema)
	}

	memory := router.Group("/memory")
	{
		memory.GET("/stats", memoryHandler.Stats)
		memory.GET("/:thread_id", memoryHandler.History)
		memory.GET("/:thread_id/search", memoryHandler.Search)
		memory.DELETE("/:thread_id", middleware.RequireAdminAPIKey(cfg.AdminAPIKey), memoryHandler.Clear)
	}
}
