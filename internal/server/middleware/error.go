package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calder-ai/relay/internal/core/domain"
)

// ErrorHandler serializes errors attached by handlers. Problems go out
// as RFC 9457 bodies; anything else collapses to a 500.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if problem, ok := err.(*domain.Problem); ok {
			if problem.Log != nil {
				logger.Error("request failed",
					zap.Int("status", problem.Status),
					zap.Error(problem.Log),
				)
			}
			c.JSON(problem.Status, problem)
			c.Abort()
			return
		}

		if apiErr, ok := err.(*domain.Error); ok {
			if apiErr.Log != nil {
				logger.Error("request failed",
					zap.Int("status", apiErr.Code),
					zap.Error(apiErr.Log),
				)
			}
			c.JSON(apiErr.Code, gin.H{"error": apiErr.Message})
			c.Abort()
			return
		}

		logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewProblem(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
		c.Abort()
	}
}
