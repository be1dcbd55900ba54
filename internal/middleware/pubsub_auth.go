package middleware

import (
	"context"
	"net/http"
	"strings"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"google.golang.org/api/idtoken"
)

// TokenValidator validates a Google-signed OIDC token for audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PubSubAuthMiddleware checks the OIDC bearer token Pub/Sub push attaches.
// With an empty audience the check is disabled.
func PubSubAuthMiddleware(audience string, validate TokenValidator) gin.HandlerFunc {
	if validate == nil {
		validate = idtoken.Validate
	}
	return func(c *gin.Context) {
		if audience == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.AbortJSON(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		payload, err := validate(c.Request.Context(), token, audience)
		if err != nil {
			logging.Warnf("Pub/Sub token rejected: %v", err)
			response.AbortJSON(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}
		if email, _ := payload.Claims["email"].(string); email != "" {
			c.Set("pubsub_email", email)
		}
		c.Next()
	}
}
