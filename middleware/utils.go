package middleware

import (
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/common/helper"
	"github.com/fuchsia74/modelcheck/common/logger"
)

// AbortWithError aborts the request with an admin-API error payload.
func AbortWithError(c *gin.Context, statusCode int, err error) {
	logger.Logger.Warn("server abort",
		zap.Int("status_code", statusCode),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))

	c.JSON(statusCode, gin.H{
		"success": false,
		"message": helper.MessageWithRequestId(err.Error(), c.GetString(helper.RequestIdKey)),
	})
	c.Abort()
}

// AbortWithRelayError aborts with the upstream-style error envelope the
// proxy surface speaks.
func AbortWithRelayError(c *gin.Context, statusCode int, message string, errType string) {
	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	})
	c.Abort()
}
