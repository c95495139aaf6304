package api

import (
	"github.com/gin-gonic/gin"

	"github.com/angelstreet/virtualpytest-sub004/service"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

func SetupRoutes(router *gin.Engine, host *service.Host, records store.RecordStore, wsHub *WebSocketHub, feed *service.CaptureFeed) {
	// Enable CORS
	router.Use(CORSMiddleware())

	dispatcher := service.NewActionDispatcher(host.Device, 0)

	router.GET("/health", func(c *gin.Context) {
		Health(c, host)
	})

	api := router.Group("/api")
	{
		api.GET("/host", func(c *gin.Context) {
			GetHost(c, host)
		})
		api.GET("/executions", func(c *gin.Context) {
			ListExecutions(c, records)
		})
		api.GET("/feeds", func(c *gin.Context) {
			FeedStatus(c, feed)
		})
		api.POST("/batch/sequence", func(c *gin.Context) {
			BatchSequence(c, dispatcher)
		})

		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) {
				GetDevices(c, host)
			})
			devices.GET("/:id", func(c *gin.Context) {
				GetDevice(c, host)
			})
			devices.POST("/:id/remote/command", func(c *gin.Context) {
				RemoteCommand(c, host)
			})
			devices.POST("/:id/remote/sequence", func(c *gin.Context) {
				RemoteSequence(c, host)
			})
			devices.POST("/:id/controllers/:key/command", func(c *gin.Context) {
				ControllerCommand(c, host)
			})
			devices.POST("/:id/av/screenshot", func(c *gin.Context) {
				TakeScreenshot(c, host)
			})
			devices.POST("/:id/av/video/start", func(c *gin.Context) {
				StartVideo(c, host)
			})
			devices.POST("/:id/av/video/stop", func(c *gin.Context) {
				StopVideo(c, host)
			})
			devices.POST("/:id/verification", func(c *gin.Context) {
				RunVerifications(c, host)
			})
			devices.POST("/:id/elements/search", func(c *gin.Context) {
				SearchElements(c, host)
			})
			devices.POST("/:id/navigation", func(c *gin.Context) {
				Navigate(c, host)
			})
		}
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(wsHub, feed, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
