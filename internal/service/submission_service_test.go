package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/repository"
	"github.com/safeguard-ngo/impact-api/internal/workflow"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
)

type submissionRepoStub struct {
	submissions map[string]*models.Submission
	ledger      []models.LiveMetric
	filter      models.SubmissionFilter
}

func newSubmissionRepoStub() *submissionRepoStub {
	return &submissionRepoStub{submissions: make(map[string]*models.Submission)}
}

func (r *submissionRepoStub) Create(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = "sub-" + sub.UserID
	}
	now := time.Now().UTC()
	sub.SubmittedAt = now
	sub.LastModified = now
	sub.Status = models.StatusPending
	sub.FinalStatus = models.ApprovalPending
	for i := range sub.Metrics {
		sub.Metrics[i].SubmissionID = sub.ID
		sub.Metrics[i].ApprovalStatus = models.ApprovalPending
		sub.Metrics[i].CreatedAt = now
	}
	clone := *sub
	r.submissions[sub.ID] = &clone
	return nil
}

func (r *submissionRepoStub) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	sub, ok := r.submissions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *sub
	clone.Metrics = append([]models.SubmissionMetric(nil), sub.Metrics...)
	clone.Changes = append([]models.SubmissionChange(nil), sub.Changes...)
	return &clone, nil
}

func (r *submissionRepoStub) List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, error) {
	r.filter = filter
	result := make([]models.Submission, 0, len(r.submissions))
	for _, sub := range r.submissions {
		result = append(result, *sub)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *submissionRepoStub) Count(ctx context.Context, filter models.SubmissionFilter) (int, error) {
	count := 0
	for _, sub := range r.submissions {
		if filter.UserID != "" && sub.UserID != filter.UserID {
			continue
		}
		count++
	}
	return count, nil
}

func (r *submissionRepoStub) AppendChange(ctx context.Context, change *models.SubmissionChange, now time.Time) error {
	sub, ok := r.submissions[change.SubmissionID]
	if !ok {
		return sql.ErrNoRows
	}
	change.ID = "chg-1"
	change.CreatedAt = now
	sub.Changes = append(sub.Changes, *change)
	sub.LastModified = now
	return nil
}

func (r *submissionRepoStub) DecideMetric(ctx context.Context, params repository.DecideMetricParams) (models.SubmissionStatus, error) {
	sub, ok := r.submissions[params.SubmissionID]
	if !ok {
		return "", sql.ErrNoRows
	}
	metric := sub.MetricByField(params.Field)
	if metric == nil {
		return "", sql.ErrNoRows
	}
	if metric.ApprovalStatus != models.ApprovalPending {
		return "", repository.ErrAlreadyDecided
	}
	metric.ApprovalStatus = params.Decision
	if params.Decision == models.ApprovalApproved {
		metric.ApprovedBy = &params.ApproverID
		decidedAt := params.DecidedAt
		metric.ApprovedAt = &decidedAt
	} else {
		reason := params.Reason
		metric.RejectionReason = &reason
	}
	sub.Status = workflow.DeriveStatus(sub.Metrics, sub.FinalStatus)
	sub.LastModified = params.DecidedAt
	return sub.Status, nil
}

func (r *submissionRepoStub) FinalApprove(ctx context.Context, params repository.FinalApproveParams) error {
	sub, ok := r.submissions[params.SubmissionID]
	if !ok {
		return sql.ErrNoRows
	}
	if sub.Status != models.StatusReadyForFinal {
		return repository.ErrAlreadyDecided
	}
	sub.Status = models.StatusApproved
	sub.FinalStatus = models.ApprovalApproved
	sub.FinalApprovedBy = &params.ApproverID
	approvedAt := params.ApprovedAt
	sub.FinalApprovedAt = &approvedAt
	for _, m := range sub.Metrics {
		if m.ApprovalStatus == models.ApprovalApproved {
			r.ledger = append(r.ledger, models.LiveMetric{
				SubmissionID: sub.ID,
				Field:        m.Field,
				Value:        m.Value,
				ApprovedBy:   params.ApproverID,
				Category:     sub.Category,
				Location:     sub.Location,
				Year:         sub.SubmittedAt.Year(),
			})
		}
	}
	return nil
}

func (r *submissionRepoStub) FinalReject(ctx context.Context, id, reason string, now time.Time) error {
	sub, ok := r.submissions[id]
	if !ok {
		return sql.ErrNoRows
	}
	if sub.Status == models.StatusApproved || sub.Status == models.StatusRejected {
		return repository.ErrAlreadyDecided
	}
	sub.Status = models.StatusRejected
	sub.FinalStatus = models.ApprovalRejected
	sub.FinalRejectionReason = &reason
	return nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type cacheStub struct {
	invalidated []string
}

func (c *cacheStub) Invalidate(ctx context.Context, prefix string) {
	c.invalidated = append(c.invalidated, prefix)
}

func agentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAgent}
}

func partnerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RolePartner}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func createTestSubmission(t *testing.T, svc *SubmissionService) *models.Submission {
	t.Helper()
	sub, err := svc.Create(context.Background(), dto.CreateSubmissionRequest{
		Category:    "Safe Housing",
		Location:    "Kathmandu, Nepal",
		Description: "Monthly safe housing report",
		Priority:    models.PriorityHigh,
		Metrics:     map[string]float64{"safeHomes": 12, "newSurvivors": 3},
	}, agentClaims("agent-1"))
	require.NoError(t, err)
	return sub
}

func TestSubmissionServiceCreate(t *testing.T) {
	repo := newSubmissionRepoStub()
	audit := &auditStub{}
	svc := NewSubmissionService(repo, audit, nil, nil, nil)

	sub := createTestSubmission(t, svc)
	require.Equal(t, models.StatusPending, sub.Status)
	require.Len(t, sub.Metrics, 2)
	for _, m := range sub.Metrics {
		require.Equal(t, models.ApprovalPending, m.ApprovalStatus)
	}
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionSubmissionCreate, audit.logs[0].Action)
}

func TestSubmissionServiceCreateRejectsNegativeValues(t *testing.T) {
	svc := NewSubmissionService(newSubmissionRepoStub(), nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateSubmissionRequest{
		Category:    "Safe Housing",
		Location:    "Kathmandu, Nepal",
		Description: "report",
		Metrics:     map[string]float64{"safeHomes": -1},
	}, agentClaims("agent-1"))
	requireAppError(t, err, appErrors.ErrValidation.Code)
}

func TestSubmissionServiceCreateForbiddenForPartner(t *testing.T) {
	svc := NewSubmissionService(newSubmissionRepoStub(), nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateSubmissionRequest{
		Category:    "Safe Housing",
		Location:    "Kathmandu, Nepal",
		Description: "report",
		Metrics:     map[string]float64{"safeHomes": 1},
	}, partnerClaims("partner-1"))
	requireAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestSubmissionServiceApprovalLifecycle(t *testing.T) {
	repo := newSubmissionRepoStub()
	audit := &auditStub{}
	cache := &cacheStub{}
	svc := NewSubmissionService(repo, audit, cache, nil, nil)

	sub := createTestSubmission(t, svc)

	updated, err := svc.ApproveMetric(context.Background(), sub.ID, "safeHomes", partnerClaims("partner-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPartiallyApproved, updated.Status)

	updated, err = svc.ApproveMetric(context.Background(), sub.ID, "newSurvivors", adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusReadyForFinal, updated.Status)

	final, err := svc.FinalApprove(context.Background(), sub.ID, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, final.Status)
	require.NotNil(t, final.FinalApprovedBy)
	require.Equal(t, "admin-1", *final.FinalApprovedBy)

	require.Len(t, repo.ledger, 2)
	for _, entry := range repo.ledger {
		require.Equal(t, "Safe Housing", entry.Category)
		require.Equal(t, "Kathmandu, Nepal", entry.Location)
		require.Equal(t, "admin-1", entry.ApprovedBy)
	}
	require.Equal(t, []string{dashboardCachePrefix}, cache.invalidated)

	// The publication audit entry counts approved metrics.
	var approveLog *models.AuditLog
	for _, log := range audit.logs {
		if log.Action == models.AuditActionFinalApprove {
			approveLog = log
		}
	}
	require.NotNil(t, approveLog)
	require.JSONEq(t, `{"published": 2}`, string(approveLog.NewValues))
}

func TestSubmissionServiceApproveMetricTwiceConflicts(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	sub := createTestSubmission(t, svc)

	_, err := svc.ApproveMetric(context.Background(), sub.ID, "safeHomes", adminClaims("admin-1"))
	require.NoError(t, err)

	_, err = svc.ApproveMetric(context.Background(), sub.ID, "safeHomes", adminClaims("admin-2"))
	requireAppError(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestSubmissionServiceRejectMetricRequiresReason(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	sub := createTestSubmission(t, svc)

	_, err := svc.RejectMetric(context.Background(), sub.ID, "safeHomes", "   ", partnerClaims("partner-1"))
	requireAppError(t, err, appErrors.ErrValidation.Code)

	// The failed call must not have touched the metric.
	loaded, err := svc.Get(context.Background(), sub.ID, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.ApprovalPending, loaded.MetricByField("safeHomes").ApprovalStatus)
}

func TestSubmissionServiceRejectedMetricBlocksFinalApproval(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	sub := createTestSubmission(t, svc)

	_, err := svc.ApproveMetric(context.Background(), sub.ID, "safeHomes", adminClaims("admin-1"))
	require.NoError(t, err)
	updated, err := svc.RejectMetric(context.Background(), sub.ID, "newSurvivors", "figures do not match narrative", adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPartiallyApproved, updated.Status)
	require.Nil(t, updated.MetricByField("newSurvivors").ApprovedBy)
	require.NotNil(t, updated.MetricByField("newSurvivors").RejectionReason)

	_, err = svc.FinalApprove(context.Background(), sub.ID, adminClaims("admin-1"))
	requireAppError(t, err, appErrors.ErrInvalidTransition.Code)

	// Final rejection is still available from this capped state.
	final, err := svc.FinalReject(context.Background(), sub.ID, "resubmit with corrected figures", adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, final.Status)
	require.Empty(t, repo.ledger)
}

func TestSubmissionServiceFinalApproveRequiresReadyState(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	sub := createTestSubmission(t, svc)

	_, err := svc.FinalApprove(context.Background(), sub.ID, adminClaims("admin-1"))
	requireAppError(t, err, appErrors.ErrInvalidTransition.Code)

	_, err = svc.FinalApprove(context.Background(), sub.ID, partnerClaims("partner-1"))
	requireAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestSubmissionServiceRecordChange(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	sub := createTestSubmission(t, svc)

	// Approval state survives a recorded change.
	_, err := svc.ApproveMetric(context.Background(), sub.ID, "safeHomes", adminClaims("admin-1"))
	require.NoError(t, err)

	updated, err := svc.RecordChange(context.Background(), sub.ID, dto.RecordChangeRequest{
		Field:    "safeHomes",
		OldValue: "12",
		NewValue: "14",
		Reason:   "late registrations",
	}, agentClaims("agent-1"))
	require.NoError(t, err)
	require.Len(t, updated.Changes, 1)
	require.Equal(t, models.ApprovalApproved, updated.MetricByField("safeHomes").ApprovalStatus)

	// Only the submitter may amend their submission.
	_, err = svc.RecordChange(context.Background(), sub.ID, dto.RecordChangeRequest{
		Field:    "safeHomes",
		NewValue: "15",
		Reason:   "tweak",
	}, agentClaims("agent-2"))
	requireAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestSubmissionServiceListScopesByRole(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	createTestSubmission(t, svc)

	_, _, err := svc.List(context.Background(), dto.SubmissionQuery{}, agentClaims("agent-1"))
	require.NoError(t, err)
	require.Equal(t, "agent-1", repo.filter.UserID)

	_, _, err = svc.List(context.Background(), dto.SubmissionQuery{}, partnerClaims("partner-1"))
	require.NoError(t, err)
	require.Empty(t, repo.filter.UserID)
	require.ElementsMatch(t, []models.SubmissionStatus{models.StatusPending, models.StatusPartiallyApproved}, repo.filter.Statuses)

	// A partner asking for terminal states still only sees the review queue.
	_, _, err = svc.List(context.Background(), dto.SubmissionQuery{
		Statuses: []models.SubmissionStatus{models.StatusApproved},
	}, partnerClaims("partner-1"))
	require.NoError(t, err)
	require.ElementsMatch(t, []models.SubmissionStatus{models.StatusPending, models.StatusPartiallyApproved}, repo.filter.Statuses)

	_, _, err = svc.List(context.Background(), dto.SubmissionQuery{}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Empty(t, repo.filter.Statuses)
}

func TestSubmissionServiceListPaginationReportsTotal(t *testing.T) {
	repo := newSubmissionRepoStub()
	svc := NewSubmissionService(repo, nil, nil, nil, nil)
	for _, agent := range []string{"agent-1", "agent-2", "agent-3"} {
		_, err := svc.Create(context.Background(), dto.CreateSubmissionRequest{
			Category:    "Safe Housing",
			Location:    "Kathmandu, Nepal",
			Description: "Monthly report",
			Metrics:     map[string]float64{"safeHomes": 4},
		}, agentClaims(agent))
		require.NoError(t, err)
	}

	// The total spans every matching row, not just the returned page.
	subs, pagination, err := svc.List(context.Background(), dto.SubmissionQuery{Page: 2, PageSize: 2}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, 2, pagination.Page)
	require.Equal(t, 3, pagination.TotalCount)
}

func TestSubmissionServiceGetNotFound(t *testing.T) {
	svc := NewSubmissionService(newSubmissionRepoStub(), nil, nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing", adminClaims("admin-1"))
	requireAppError(t, err, appErrors.ErrNotFound.Code)
}

func requireAppError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected typed error, got %v", err)
	require.Equal(t, code, appErr.Code)
}
