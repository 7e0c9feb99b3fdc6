package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const callerContextKey = "api_caller"

// securityHeaders sets a standard set of defensive response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// bearerAuth resolves the Authorization header's bearer token via auth and
// stores the resulting Caller on the request context for handlers to read.
// A missing or unrecognized token aborts with 401 before any handler runs.
func bearerAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		caller, ok := auth.Authenticate(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}

		c.Set(callerContextKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) Caller {
	if v, ok := c.Get(callerContextKey); ok {
		if caller, ok := v.(Caller); ok {
			return caller
		}
	}
	return Caller{}
}
