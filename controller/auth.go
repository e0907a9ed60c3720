package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/common"
	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/middleware"
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login exchanges the admin password for a signed session token.
func Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "password is required",
		})
		return
	}
	if config.AdminPassword == "" {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "ADMIN_PASSWORD is not configured",
		})
		return
	}
	if !common.ValidatePasswordAndHash(req.Password, config.AdminPassword) {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "wrong password",
		})
		return
	}
	token, err := middleware.IssueAdminToken()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "",
		"data":    gin.H{"token": token},
	})
}

// GetStatus is the unauthenticated liveness endpoint.
func GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "",
		"data": gin.H{
			"version":    common.Version,
			"start_time": common.StartTime,
		},
	})
}
