package helper

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/common/random"
)

const RequestIdKey = "X-Request-Id"

func GenRequestID() string {
	return GetTimeString() + random.GetRandomNumberString(8)
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIdKey)
}

func MessageWithRequestId(message string, id string) string {
	return fmt.Sprintf("%s (request id: %s)", message, id)
}

// Truncate cuts s at limit bytes, marking the cut. Probe previews and
// error messages are stored truncated so log rows stay bounded.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
