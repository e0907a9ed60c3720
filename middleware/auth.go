package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/fuchsia74/modelcheck/common/config"
)

// IssueAdminToken signs an HS256 session token after password login.
func IssueAdminToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(config.JWTExpiry).Unix(),
	})
	signed, err := token.SignedString([]byte(config.JWTSecret))
	return signed, errors.Wrap(err, "sign admin token")
}

func parseAdminToken(raw string) error {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil {
		return errors.Wrap(err, "parse admin token")
	}
	if !token.Valid {
		return errors.New("invalid admin token")
	}
	return nil
}

// AdminAuth guards the control API. The token rides the Authorization
// header, or a token query parameter for EventSource clients that
// cannot set headers.
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" || raw == c.GetHeader("Authorization") {
			raw = c.Query("token")
		}
		if raw == "" {
			AbortWithError(c, http.StatusUnauthorized, errors.New("missing admin token"))
			return
		}
		if err := parseAdminToken(raw); err != nil {
			AbortWithError(c, http.StatusUnauthorized, err)
			return
		}
		c.Next()
	}
}
