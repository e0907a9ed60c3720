package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestExtractInboundKeyPrecedence(t *testing.T) {
	newCtx := func(headers map[string]string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range headers {
			c.Request.Header.Set(k, v)
		}
		return c
	}

	assert.Equal(t, "k1", ExtractInboundKey(newCtx(map[string]string{"Authorization": "Bearer k1"})))
	assert.Equal(t, "k2", ExtractInboundKey(newCtx(map[string]string{"x-api-key": "k2"})))
	assert.Equal(t, "k3", ExtractInboundKey(newCtx(map[string]string{"x-goog-api-key": "k3"})))
	// first non-empty wins
	assert.Equal(t, "k1", ExtractInboundKey(newCtx(map[string]string{
		"Authorization": "Bearer k1",
		"x-api-key":     "k2",
	})))
	assert.Empty(t, ExtractInboundKey(newCtx(nil)))
}

func TestAdminTokenRoundTrip(t *testing.T) {
	token, err := IssueAdminToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.NoError(t, parseAdminToken(token))
	assert.Error(t, parseAdminToken("not-a-token"))
	assert.Error(t, parseAdminToken(token+"tampered"))
}

func TestAdminAuthMiddleware(t *testing.T) {
	server := gin.New()
	server.GET("/guarded", AdminAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// missing token
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// bearer token
	token, err := IssueAdminToken()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// query parameter fallback for EventSource clients
	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guarded?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
