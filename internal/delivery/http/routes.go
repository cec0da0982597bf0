package http

import (
	"github.com/gin-gonic/gin"

	"github.com/precofacil/catalog/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		{
			products.POST("/match", handler.MatchProduct)
			products.POST("/match/batch", handler.MatchBatch)
		}

		catalog := v1.Group("/catalog")
		{
			catalog.POST("/consolidate", handler.Consolidate)
			catalog.GET("/products", handler.ListProducts)
		}
	}

	return router
}
