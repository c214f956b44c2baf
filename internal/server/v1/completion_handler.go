package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/core/services"
	"github.com/calder-ai/relay/internal/server/validator"
	"github.com/calder-ai/relay/pkg/schema"
)

type CompletionHandler struct {
	service *services.FailoverService
}

func NewCompletionHandler(service *services.FailoverService) *CompletionHandler {
	return &CompletionHandler{service: service}
}

func (h *CompletionHandler) CreateCompletion(c *gin.Context) {
	var req schema.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationError(validator.ParseError(err)))
		return
	}

	result, err := h.service.Route(c.Request.Context(), &req)
	if err != nil {
		var exhausted *domain.AllProvidersFailedError
		if errors.As(err, &exhausted) {
			_ = c.Error(domain.NewProblem(
				http.StatusBadGateway,
				"All Providers Failed",
				"No backend could serve the request.",
				domain.WithExtension("tried", exhausted.Tried),
			))
			return
		}

		_ = c.Error(domain.InternalError("Failed to process completion request", err))
		return
	}

	c.JSON(http.StatusOK, result)
}
