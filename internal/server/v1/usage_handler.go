package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/store"
	"github.com/calder-ai/relay/internal/tracker"
)

type UsageHandler struct {
	usage *tracker.Tracker
	repo  store.Repository
}

func NewUsageHandler(usage *tracker.Tracker, repo store.Repository) *UsageHandler {
	return &UsageHandler{usage: usage, repo: repo}
}

// GetUsage returns aggregate spend. The "by" query selects the grouping
// dimension; "recent" bounds the raw record tail.
func (h *UsageHandler) GetUsage(c *gin.Context) {
	by := c.DefaultQuery("by", "provider")

	var groups map[string]tracker.AggregateStats
	switch by {
	case "provider":
		groups = h.usage.ByProvider()
	case "route":
		groups = h.usage.ByRoute()
	case "model":
		groups = h.usage.ByModel()
	case "hour":
		groups = h.usage.ByHour()
	default:
		_ = c.Error(domain.BadRequestError("by must be one of provider, route, model, hour"))
		return
	}

	recent := 0
	if raw := c.Query("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(domain.BadRequestError("recent must be a non-negative integer"))
			return
		}
		recent = n
	}

	resp := gin.H{
		"total_cost": h.usage.TotalCost(),
		"by":         by,
		"groups":     groups,
		"budget":     h.usage.Standing(),
	}
	if recent > 0 {
		resp["recent"] = h.usage.Recent(recent)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UsageHandler) GetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.usage.Alerts()})
}

// GetDaily serves per-day rollups from the durable store. Only routed
// when persistence is enabled.
func (h *UsageHandler) GetDaily(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			_ = c.Error(domain.BadRequestError("days must be between 1 and 365"))
			return
		}
		days = n
	}

	stats, err := h.repo.Usage().DailyStats(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(domain.InternalError("Failed to load daily usage", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": days, "daily": stats})
}
