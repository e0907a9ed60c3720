package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/controller"
	"github.com/fuchsia74/modelcheck/middleware"
)

func SetAPIRouter(server *gin.Engine) {
	api := server.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/sse"})))
	{
		api.GET("/status", controller.GetStatus)
		api.POST("/auth/login", controller.Login)

		authed := api.Group("")
		authed.Use(middleware.AdminAuth())
		{
			channel := authed.Group("/channel")
			{
				channel.GET("", controller.GetAllChannels)
				channel.POST("", controller.AddChannel)
				channel.GET("/export", controller.ExportChannels)
				channel.POST("/import", controller.ImportChannels)
				channel.GET("/:id", controller.GetChannel)
				channel.PUT("/:id", controller.UpdateChannel)
				channel.DELETE("/:id", controller.DeleteChannel)
				channel.GET("/:id/models", controller.GetChannelModels)
				channel.POST("/:id/sync", controller.SyncChannelModels)
			}

			keys := authed.Group("/proxy-keys")
			{
				keys.GET("", controller.GetAllProxyKeys)
				keys.POST("", controller.AddProxyKey)
				keys.GET("/:id", controller.GetProxyKey)
				keys.PUT("/:id", controller.UpdateProxyKey)
				keys.DELETE("/:id", controller.DeleteProxyKey)
				keys.POST("/:id/regenerate", controller.RegenerateProxyKey)
			}

			authed.GET("/scheduler/config", controller.GetSchedulerConfig)
			authed.PUT("/scheduler/config", controller.UpdateSchedulerConfig)

			authed.POST("/detect", controller.TriggerDetection)
			authed.DELETE("/detect", controller.StopDetection)
			authed.GET("/detect", controller.GetDetectionStatus)

			authed.GET("/logs", controller.GetProbeLogs)
			authed.GET("/sse/progress", controller.ProgressSSE)
		}
	}
}
