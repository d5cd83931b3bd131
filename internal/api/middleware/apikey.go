package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const actorContextKey = "admin_actor"

// AdminKey authenticates lifecycle operations (create, revoke, renew)
// with a bearer API key. Verification endpoints stay public; only
// administrative mutations pass through here.
func AdminKey(apiKey string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_auth").Logger()

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := extractBearerToken(header)
		if token == "" || !hmac.Equal([]byte(token), []byte(apiKey)) {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("rejected admin request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}

		// The actor recorded in audit entries. API keys are per-operator
		// in deployment; the key label travels in a separate header.
		actor := c.GetHeader("X-Actor")
		if actor == "" {
			actor = "admin"
		}
		c.Set(actorContextKey, actor)

		c.Next()
	}
}

// Actor returns the authenticated administrative actor for the request.
func Actor(c *gin.Context) string {
	if actor, ok := c.Get(actorContextKey); ok {
		if s, ok := actor.(string); ok {
			return s
		}
	}
	return ""
}

// extractBearerToken pulls the token out of an Authorization header.
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
