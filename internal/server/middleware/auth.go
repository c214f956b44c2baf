package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/relay/internal/core/domain"
)

// Auth requires a Bearer token from the configured key list.
func Auth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewProblem(
				http.StatusUnauthorized,
				"Unauthorized",
				"Missing Authorization header",
			))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewProblem(
				http.StatusUnauthorized,
				"Unauthorized",
				"Invalid Authorization header format",
			))
			return
		}

		token := parts[1]
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(k)) == 1 {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewProblem(
			http.StatusUnauthorized,
			"Unauthorized",
			"Invalid API key",
		))
	}
}
