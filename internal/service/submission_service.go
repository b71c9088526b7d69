package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/repository"
	"github.com/safeguard-ngo/impact-api/internal/workflow"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
)

type submissionStore interface {
	Create(ctx context.Context, sub *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, error)
	Count(ctx context.Context, filter models.SubmissionFilter) (int, error)
	AppendChange(ctx context.Context, change *models.SubmissionChange, now time.Time) error
	DecideMetric(ctx context.Context, params repository.DecideMetricParams) (models.SubmissionStatus, error)
	FinalApprove(ctx context.Context, params repository.FinalApproveParams) error
	FinalReject(ctx context.Context, id, reason string, now time.Time) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, prefix string)
}

// SubmissionService orchestrates the submission lifecycle: creation, change
// recording, per-metric review, and final approval or rejection. Every
// mutating operation re-checks workflow.CanPerform against a fresh load of
// the submission; listing visibility never substitutes for that check.
type SubmissionService struct {
	repo      submissionStore
	audit     auditLogger
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewSubmissionService constructs the service.
func NewSubmissionService(repo submissionStore, audit auditLogger, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SubmissionService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger}
}

// WithMetrics attaches the Prometheus workflow counters.
func (s *SubmissionService) WithMetrics(m *MetricsService) *SubmissionService {
	s.metrics = m
	return s
}

// Create stores a new submission with all metrics pending. Only agents
// submit; empty metric maps and negative values are rejected before any
// write.
func (s *SubmissionService) Create(ctx context.Context, req dto.CreateSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionCreate, nil, actor.UserID) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	for field, value := range req.Metrics {
		if strings.TrimSpace(field) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "metric field name is required")
		}
		if value < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "metric values must be non-negative")
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	switch priority {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "priority must be low, normal, or high")
	}

	sub := &models.Submission{
		UserID:      actor.UserID,
		Category:    strings.TrimSpace(req.Category),
		Location:    strings.TrimSpace(req.Location),
		Description: req.Description,
		Priority:    priority,
		Language:    req.Language,
		Metrics:     metricsFromMap(req.Metrics),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create submission")
	}

	s.emitAudit(ctx, actor, models.AuditActionSubmissionCreate, sub.ID, map[string]interface{}{
		"category": sub.Category,
		"location": sub.Location,
		"metrics":  len(sub.Metrics),
	})
	return sub, nil
}

// List returns submissions visible to the actor. Agents see their own,
// partners see the open review queue, admins see everything.
func (s *SubmissionService) List(ctx context.Context, query dto.SubmissionQuery, actor *models.JWTClaims) ([]models.Submission, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}

	filter := models.SubmissionFilter{
		Category: query.Category,
		Location: query.Location,
		Priority: query.Priority,
	}
	switch actor.Role {
	case models.RoleAgent:
		filter.UserID = actor.UserID
		filter.Statuses = query.Statuses
	case models.RolePartner:
		filter.Statuses = intersectStatuses(query.Statuses, workflow.VisibleStatuses(actor.Role))
	case models.RoleAdmin:
		filter.Statuses = query.Statuses
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	subs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count submissions")
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
	return subs, pagination, nil
}

// Get loads one submission with metrics and change history, enforcing
// role-scoped visibility.
func (s *SubmissionService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Submission, error) {
	sub, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionView, sub, actor.UserID) {
		return nil, appErrors.ErrForbidden
	}
	return sub, nil
}

// RecordChange appends an amendment entry to the submitter's own open
// submission. Approval state of the named metric is left untouched.
func (s *SubmissionService) RecordChange(ctx context.Context, id string, req dto.RecordChangeRequest, actor *models.JWTClaims) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change payload")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "change reason is required")
	}

	sub, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionRecordChange, sub, actor.UserID) {
		if workflow.Terminal(sub.Status) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is already finalized")
		}
		return nil, appErrors.ErrForbidden
	}

	now := time.Now().UTC()
	change := &models.SubmissionChange{
		SubmissionID: sub.ID,
		Field:        req.Field,
		OldValue:     req.OldValue,
		NewValue:     req.NewValue,
		Reason:       strings.TrimSpace(req.Reason),
	}
	if err := s.repo.AppendChange(ctx, change, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record change")
	}
	sub.Changes = append(sub.Changes, *change)
	sub.LastModified = now

	s.emitAudit(ctx, actor, models.AuditActionSubmissionChange, sub.ID, map[string]interface{}{
		"field":    change.Field,
		"oldValue": change.OldValue,
		"newValue": change.NewValue,
	})
	return sub, nil
}

// ApproveMetric approves one pending metric and returns the recomputed
// submission. A concurrent decision on the same metric leaves exactly one
// winner; the loser gets an invalid-transition conflict.
func (s *SubmissionService) ApproveMetric(ctx context.Context, id, field string, actor *models.JWTClaims) (*models.Submission, error) {
	return s.decideMetric(ctx, id, field, models.ApprovalApproved, "", actor)
}

// RejectMetric rejects one pending metric with a mandatory reason. The
// reason is validated before any state is touched; rejections record no
// reviewer identity.
func (s *SubmissionService) RejectMetric(ctx context.Context, id, field, reason string, actor *models.JWTClaims) (*models.Submission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	return s.decideMetric(ctx, id, field, models.ApprovalRejected, reason, actor)
}

func (s *SubmissionService) decideMetric(ctx context.Context, id, field string, decision models.ApprovalStatus, reason string, actor *models.JWTClaims) (*models.Submission, error) {
	sub, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionDecideMetric, sub, actor.UserID) {
		return nil, appErrors.ErrForbidden
	}
	metric := sub.MetricByField(field)
	if metric == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "metric not found")
	}
	if metric.ApprovalStatus != models.ApprovalPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "metric is already decided")
	}

	_, err = s.repo.DecideMetric(ctx, repository.DecideMetricParams{
		SubmissionID: sub.ID,
		Field:        field,
		Decision:     decision,
		ApproverID:   actor.UserID,
		Reason:       reason,
		DecidedAt:    time.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyDecided):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "metric is already decided")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "metric not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide metric")
		}
	}

	action := models.AuditActionMetricApprove
	details := map[string]interface{}{"field": field}
	if decision == models.ApprovalRejected {
		action = models.AuditActionMetricReject
		details["reason"] = reason
	}
	s.metrics.RecordDecision("metric", string(decision))
	s.emitAudit(ctx, actor, action, sub.ID, details)

	updated, err := s.repo.GetByID(ctx, sub.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload submission")
	}
	return updated, nil
}

// FinalApprove publishes a ready_for_final submission to the live-metrics
// ledger and marks it approved, atomically. The repository runs the status
// flip and the ledger inserts in one transaction; any failure rolls back
// both.
func (s *SubmissionService) FinalApprove(ctx context.Context, id string, actor *models.JWTClaims) (*models.Submission, error) {
	sub, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionFinalApprove, sub, actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is not ready for final approval")
	}

	err = s.repo.FinalApprove(ctx, repository.FinalApproveParams{
		SubmissionID: sub.ID,
		ApproverID:   actor.UserID,
		ApprovedAt:   time.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyDecided):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is not ready for final approval")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrNotFound
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish submission")
		}
	}

	published := 0
	for _, m := range sub.Metrics {
		if m.ApprovalStatus == models.ApprovalApproved {
			published++
		}
	}

	s.invalidateDashboard(ctx)
	s.metrics.RecordDecision("final", string(models.ApprovalApproved))
	s.metrics.RecordPublication()
	s.emitAudit(ctx, actor, models.AuditActionFinalApprove, sub.ID, map[string]interface{}{
		"published": published,
	})

	updated, err := s.repo.GetByID(ctx, sub.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload submission")
	}
	return updated, nil
}

// FinalReject terminally rejects a submission from any open state. Nothing
// is ever published for a rejected submission.
func (s *SubmissionService) FinalReject(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Submission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	sub, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionFinalReject, sub, actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is already finalized")
	}

	if err := s.repo.FinalReject(ctx, sub.ID, reason, time.Now().UTC()); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyDecided):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is already finalized")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrNotFound
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject submission")
		}
	}

	s.metrics.RecordDecision("final", string(models.ApprovalRejected))
	s.emitAudit(ctx, actor, models.AuditActionFinalReject, sub.ID, map[string]interface{}{
		"reason": reason,
	})

	updated, err := s.repo.GetByID(ctx, sub.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload submission")
	}
	return updated, nil
}

func (s *SubmissionService) load(ctx context.Context, id string, actor *models.JWTClaims) (*models.Submission, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	return sub, nil
}

func (s *SubmissionService) invalidateDashboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, dashboardCachePrefix)
}

func (s *SubmissionService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, submissionID string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "submission",
		ResourceID: &submissionID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "submission-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// metricsFromMap converts the request metric map into pending metric rows.
// Map iteration order is not stable, so rows are ordered by field name to
// keep creation deterministic.
func metricsFromMap(values map[string]float64) []models.SubmissionMetric {
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	metrics := make([]models.SubmissionMetric, 0, len(fields))
	for _, field := range fields {
		metrics = append(metrics, models.SubmissionMetric{
			Field:          field,
			Value:          values[field],
			ApprovalStatus: models.ApprovalPending,
		})
	}
	return metrics
}

func intersectStatuses(requested, visible []models.SubmissionStatus) []models.SubmissionStatus {
	if len(requested) == 0 {
		return visible
	}
	allowed := make(map[models.SubmissionStatus]bool, len(visible))
	for _, s := range visible {
		allowed[s] = true
	}
	out := make([]models.SubmissionStatus, 0, len(requested))
	for _, s := range requested {
		if allowed[s] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return visible
	}
	return out
}
