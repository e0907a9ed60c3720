package router

import (
	"github.com/gin-gonic/gin"
)

func SetRouter(server *gin.Engine) {
	SetAPIRouter(server)
	SetRelayRouter(server)
}
