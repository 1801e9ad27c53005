package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tw_screener_backend/controllers"
	"tw_screener_backend/middleware"
	"tw_screener_backend/services"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB) {
	// Initialize controllers
	authController := controllers.NewAuthController(db)
	stockController := controllers.NewStockController(db)
	screenerController := controllers.NewScreenerController(db)
	universeController := controllers.NewUniverseController(db)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		auth.Use(middleware.LoginRateLimitMiddleware())
		{
			auth.POST("/login", authController.Login)
		}

		// Stock routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("", stockController.GetStocks)
			stocks.GET("/:symbol/chart", stockController.GetStockChart)
		}

		// Screener routes
		scr := api.Group("/screener")
		{
			scr.GET("/runs", screenerController.GetRuns)
			scr.GET("/runs/latest", screenerController.GetLatestRun)
			scr.GET("/progress", screenerController.GetProgress)
			scr.POST("/run", middleware.JWTAuthMiddleware(), screenerController.RunScreen)
		}

		// Universe maintenance
		uni := api.Group("/universe")
		uni.Use(middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware())
		{
			uni.POST("/refresh", universeController.RefreshUniverse)
		}

		// Operational stats
		api.GET("/admin/cache-stats", middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware(),
			universeController.GetCacheStats)
	}

	// WebSocket scan progress feed
	router.GET("/ws/scan", func(c *gin.Context) {
		services.GlobalScanProgress.HandleWebSocket(c.Writer, c.Request)
	})
}
