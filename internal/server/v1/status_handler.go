package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/relay/internal/core/services"
)

type StatusHandler struct {
	service *services.FailoverService
}

func NewStatusHandler(service *services.FailoverService) *StatusHandler {
	return &StatusHandler{service: service}
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Status())
}
