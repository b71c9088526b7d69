package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/service"
)

type fakeDashboardSrv struct {
	resp   *dto.DashboardResponse
	err    error
	filter models.LiveMetricFilter
}

func (f *fakeDashboardSrv) LiveMetrics(_ context.Context, filter models.LiveMetricFilter) (*dto.DashboardResponse, error) {
	f.filter = filter
	return f.resp, f.err
}

type fakeExporter struct {
	result *service.ExportResult
	err    error
	format string
}

func (f *fakeExporter) Render(_ context.Context, _ models.LiveMetricFilter, format string) (*service.ExportResult, error) {
	f.format = format
	return f.result, f.err
}

func TestDashboardHandlerLiveMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	growth := 100.0
	srv := &fakeDashboardSrv{resp: &dto.DashboardResponse{
		Year:   2026,
		Totals: []dto.FieldTotal{{Field: "safeHomes", Total: 20, PreviousTotal: 10, GrowthPercent: &growth}},
	}}
	handler := NewDashboardHandler(srv, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics/live?year=2026&category=Safe+Housing", nil)

	handler.LiveMetrics(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2026, srv.filter.Year)
	assert.Equal(t, "Safe Housing", srv.filter.Category)

	var envelope responseEnvelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, string(envelope.Data), "safeHomes")
	assert.Contains(t, envelope.Meta, "processing_time_ms")
}

func TestDashboardHandlerExportCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exporter := &fakeExporter{result: &service.ExportResult{
		FileName:    "live-metrics-2026.csv",
		ContentType: "text/csv",
		Content:     []byte("Field,Value\nsafeHomes,12\n"),
	}}
	handler := NewDashboardHandler(&fakeDashboardSrv{resp: &dto.DashboardResponse{}}, exporter)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics/live/export?year=2026", nil)

	handler.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "live-metrics-2026.csv")
	assert.Contains(t, rec.Body.String(), "safeHomes")
}
