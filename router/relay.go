package router

import (
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/controller"
	"github.com/fuchsia74/modelcheck/middleware"
)

func SetRelayRouter(server *gin.Engine) {
	// No gzip here: streamed bodies must pass through byte-faithful.
	v1 := server.Group("/v1")
	v1.Use(middleware.RelayPanicRecover(), middleware.ProxyKeyAuth())
	{
		v1.GET("/models", controller.ListModels)
		v1.POST("/chat/completions", controller.RelayChat)
		v1.POST("/messages", controller.RelayClaude)
		v1.POST("/responses", controller.RelayCodex)
	}

	// Gemini carries the model and operation in the path, so the group
	// matches a wildcard and the handler re-parses it.
	v1beta := server.Group("/v1beta")
	v1beta.Use(middleware.RelayPanicRecover(), middleware.ProxyKeyAuth())
	{
		v1beta.POST("/models/*modelAction", controller.RelayGemini)
	}
}
