package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/core/services"
	"github.com/calder-ai/relay/internal/tracker"
)

type AdminHandler struct {
	service *services.FailoverService
	usage   *tracker.Tracker
}

func NewAdminHandler(service *services.FailoverService, usage *tracker.Tracker) *AdminHandler {
	return &AdminHandler{service: service, usage: usage}
}

// ResetProvider force-closes a provider's circuit and refills its
// rate-limit bucket.
func (h *AdminHandler) ResetProvider(c *gin.Context) {
	name := c.Param("name")

	if err := h.service.ResetProvider(name); err != nil {
		_ = c.Error(domain.NotFoundError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": name, "reset": true})
}

// Sweep pings every provider and feeds the outcomes into their circuit
// breakers.
func (h *AdminHandler) Sweep(c *gin.Context) {
	results := h.service.Sweep(c.Request.Context())

	out := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}

	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// ResetUsage starts a fresh accounting day.
func (h *AdminHandler) ResetUsage(c *gin.Context) {
	h.usage.ResetDaily()
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
