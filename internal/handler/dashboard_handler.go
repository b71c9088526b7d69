package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/middleware"
	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/service"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/response"
)

type dashboardService interface {
	LiveMetrics(ctx context.Context, filter models.LiveMetricFilter) (*dto.DashboardResponse, error)
}

type ledgerExporter interface {
	Render(ctx context.Context, filter models.LiveMetricFilter, format string) (*service.ExportResult, error)
}

// DashboardHandler serves the published-metrics dashboard and exports.
type DashboardHandler struct {
	dashboard dashboardService
	export    ledgerExporter
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(dashboard dashboardService, export ledgerExporter) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, export: export}
}

// LiveMetrics godoc
// @Summary Published metric totals with year-over-year growth
// @Tags Dashboard
// @Produce json
// @Param year query int false "Year (defaults to current)"
// @Param category query string false "Category"
// @Param location query string false "Location"
// @Param field query string false "Metric field"
// @Success 200 {object} response.Envelope
// @Router /metrics/live [get]
func (h *DashboardHandler) LiveMetrics(c *gin.Context) {
	if h.dashboard == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "dashboard is disabled"))
		return
	}
	start := time.Now()
	summary, err := h.dashboard.LiveMetrics(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}

// Export godoc
// @Summary Download the published ledger as CSV or PDF
// @Tags Dashboard
// @Produce text/csv,application/pdf
// @Param format query string false "csv or pdf (default csv)"
// @Param year query int false "Year"
// @Param category query string false "Category"
// @Param location query string false "Location"
// @Success 200 {file} binary
// @Router /metrics/live/export [get]
func (h *DashboardHandler) Export(c *gin.Context) {
	if h.export == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "exports are disabled"))
		return
	}
	result, err := h.export.Render(c.Request.Context(), filterFromQuery(c), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func filterFromQuery(c *gin.Context) models.LiveMetricFilter {
	filter := models.LiveMetricFilter{
		Category: strings.TrimSpace(c.Query("category")),
		Location: strings.TrimSpace(c.Query("location")),
		Field:    strings.TrimSpace(c.Query("field")),
	}
	if raw := c.Query("year"); raw != "" {
		if year, err := strconv.Atoi(raw); err == nil {
			filter.Year = year
		}
	}
	return filter
}
