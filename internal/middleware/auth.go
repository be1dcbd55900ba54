package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// InternalAuthMiddleware guards the internal API with the shared key other
// subsystems send in X-API-Key. An empty key rejects every request.
func InternalAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}

		if key == "" {
			response.AbortJSON(c, http.StatusUnauthorized, "Missing api key")
			return
		}
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			logging.Warnf("Rejected internal request to %s from %s", c.FullPath(), c.ClientIP())
			response.AbortJSON(c, http.StatusUnauthorized, "Invalid api key")
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}
