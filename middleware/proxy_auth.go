package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/common/ctxkey"
	"github.com/fuchsia74/modelcheck/model"
)

// ExtractInboundKey picks the presented gateway credential from any of
// the accepted auth headers; first non-empty wins.
func ExtractInboundKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := c.GetHeader("x-api-key"); key != "" {
		return strings.TrimSpace(key)
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// builtInProxyKey is accepted without a database row: always enabled,
// allowed everything.
var builtInProxyKey = &model.ProxyKey{
	Name:     "built-in",
	Status:   model.ProxyKeyStatusEnabled,
	AllowAll: true,
}

// ProxyKeyAuth authenticates the relay surface. The resolved key is
// stored on the context for the permission checks downstream.
func ProxyKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := ExtractInboundKey(c)
		if presented == "" {
			AbortWithRelayError(c, http.StatusUnauthorized, "missing API key", "authentication_error")
			return
		}
		if presented == config.ProxyAPIKey {
			c.Set(ctxkey.ProxyKey, builtInProxyKey)
			c.Next()
			return
		}
		key, err := model.GetProxyKeyByValue(presented)
		if err != nil {
			AbortWithRelayError(c, http.StatusInternalServerError, "key lookup failed", "authentication_error")
			return
		}
		if key == nil || !key.Enabled() {
			AbortWithRelayError(c, http.StatusUnauthorized, "invalid API key", "authentication_error")
			return
		}
		go key.Touch()
		c.Set(ctxkey.ProxyKey, key)
		c.Next()
	}
}

// GetProxyKey returns the key resolved by ProxyKeyAuth.
func GetProxyKey(c *gin.Context) *model.ProxyKey {
	v, ok := c.Get(ctxkey.ProxyKey)
	if !ok {
		return nil
	}
	return v.(*model.ProxyKey)
}
