package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/response"
)

type submissionService interface {
	Create(ctx context.Context, req dto.CreateSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error)
	List(ctx context.Context, query dto.SubmissionQuery, actor *models.JWTClaims) ([]models.Submission, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Submission, error)
	RecordChange(ctx context.Context, id string, req dto.RecordChangeRequest, actor *models.JWTClaims) (*models.Submission, error)
	ApproveMetric(ctx context.Context, id, field string, actor *models.JWTClaims) (*models.Submission, error)
	RejectMetric(ctx context.Context, id, field, reason string, actor *models.JWTClaims) (*models.Submission, error)
	FinalApprove(ctx context.Context, id string, actor *models.JWTClaims) (*models.Submission, error)
	FinalReject(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Submission, error)
}

// SubmissionHandler exposes REST endpoints for the submission workflow.
type SubmissionHandler struct {
	service submissionService
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(service submissionService) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

// Create godoc
// @Summary Submit field data for review
// @Tags Submissions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSubmissionRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Router /submissions [post]
func (h *SubmissionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid submission payload"))
		return
	}
	sub, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, sub, nil)
}

// List godoc
// @Summary List submissions visible to the caller
// @Tags Submissions
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param category query string false "Category"
// @Param location query string false "Location"
// @Param priority query string false "Priority"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /submissions [get]
func (h *SubmissionHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.SubmissionQuery{
		Category: strings.TrimSpace(c.Query("category")),
		Location: strings.TrimSpace(c.Query("location")),
	}
	if raw := c.Query("priority"); raw != "" {
		query.Priority = models.Priority(strings.ToLower(strings.TrimSpace(raw)))
	}
	if raw := c.Query("status"); raw != "" {
		parts := strings.Split(raw, ",")
		statuses := make([]models.SubmissionStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.SubmissionStatus(part))
		}
		query.Statuses = statuses
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "50"))

	subs, pagination, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subs, pagination)
}

// Get godoc
// @Summary Get submission detail with metrics and change history
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sub, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// RecordChange godoc
// @Summary Record an amendment to a submitted value
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body dto.RecordChangeRequest true "Change payload"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/changes [post]
func (h *SubmissionHandler) RecordChange(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RecordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid change payload"))
		return
	}
	sub, err := h.service.RecordChange(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// ApproveMetric godoc
// @Summary Approve one pending metric
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Param field path string true "Metric field name"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/metrics/{field}/approve [post]
func (h *SubmissionHandler) ApproveMetric(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sub, err := h.service.ApproveMetric(c.Request.Context(), c.Param("id"), c.Param("field"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// RejectMetric godoc
// @Summary Reject one pending metric with a reason
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param field path string true "Metric field name"
// @Param payload body dto.RejectRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/metrics/{field}/reject [post]
func (h *SubmissionHandler) RejectMetric(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required"))
		return
	}
	sub, err := h.service.RejectMetric(c.Request.Context(), c.Param("id"), c.Param("field"), req.Reason, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// FinalApprove godoc
// @Summary Publish a fully reviewed submission to the live ledger
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/approve [post]
func (h *SubmissionHandler) FinalApprove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sub, err := h.service.FinalApprove(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// FinalReject godoc
// @Summary Terminally reject a submission with a reason
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body dto.RejectRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/reject [post]
func (h *SubmissionHandler) FinalReject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required"))
		return
	}
	sub, err := h.service.FinalReject(c.Request.Context(), c.Param("id"), req.Reason, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}
