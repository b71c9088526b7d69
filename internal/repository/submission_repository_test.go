package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/safeguard-ngo/impact-api/internal/models"
)

func newSubmissionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSubmissionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submission_metrics")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submission_metrics")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sub := &models.Submission{
		UserID:      "agent-1",
		Category:    "Safe Housing",
		Location:    "Kathmandu, Nepal",
		Description: "Monthly report",
		Priority:    models.PriorityHigh,
		Metrics: []models.SubmissionMetric{
			{Field: "safeHomes", Value: 12},
			{Field: "newSurvivors", Value: 3},
		},
	}
	require.NoError(t, repo.Create(context.Background(), sub))
	require.NotEmpty(t, sub.ID)
	require.Equal(t, models.StatusPending, sub.Status)
	require.Equal(t, models.ApprovalPending, sub.Metrics[0].ApprovalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	subRows := sqlmock.NewRows([]string{"id", "user_id", "submitted_at", "last_modified", "category", "location", "description", "priority", "language", "status", "final_status", "final_approved_by", "final_approved_at", "final_rejection_reason"}).
		AddRow("sub-1", "agent-1", now, now, "Safe Housing", "Kathmandu, Nepal", "Monthly report", "high", "nepali", "pending", "pending", nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, submitted_at")).
		WithArgs("sub-1").
		WillReturnRows(subRows)

	metricRows := sqlmock.NewRows([]string{"id", "submission_id", "field", "value", "approval_status", "approved_by", "approved_at", "rejection_reason", "created_at"}).
		AddRow("m-1", "sub-1", "safeHomes", 12.0, "pending", nil, nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM submission_metrics")).
		WithArgs("sub-1").
		WillReturnRows(metricRows)

	changeRows := sqlmock.NewRows([]string{"id", "submission_id", "field", "old_value", "new_value", "reason", "created_at"}).
		AddRow("c-1", "sub-1", "safeHomes", "10", "12", "late registrations", now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM submission_changes")).
		WithArgs("sub-1").
		WillReturnRows(changeRows)

	sub, err := repo.GetByID(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, sub.Metrics, 1)
	require.Len(t, sub.Changes, 1)
	require.Equal(t, "safeHomes", sub.Metrics[0].Field)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryCount(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM submissions")).
		WithArgs("agent-1", models.StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.Count(context.Background(), models.SubmissionFilter{
		UserID:   "agent-1",
		Statuses: []models.SubmissionStatus{models.StatusPending},
	})
	require.NoError(t, err)
	require.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryDecideMetricApprove(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submission_metrics")).
		WithArgs("admin-1", now, "sub-1", "safeHomes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT final_status FROM submissions")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"final_status"}).AddRow("pending"))
	metricRows := sqlmock.NewRows([]string{"id", "submission_id", "field", "value", "approval_status", "approved_by", "approved_at", "rejection_reason", "created_at"}).
		AddRow("m-1", "sub-1", "safeHomes", 12.0, "approved", "admin-1", now, nil, now).
		AddRow("m-2", "sub-1", "newSurvivors", 3.0, "pending", nil, nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM submission_metrics")).
		WithArgs("sub-1").
		WillReturnRows(metricRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET status")).
		WithArgs("partially_approved", now, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := repo.DecideMetric(context.Background(), DecideMetricParams{
		SubmissionID: "sub-1",
		Field:        "safeHomes",
		Decision:     models.ApprovalApproved,
		ApproverID:   "admin-1",
		DecidedAt:    now,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPartiallyApproved, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Two decisions on different metrics of the same submission serialize on
// the submission row lock. The metric reload happens after that lock, so
// whichever transaction commits second derives its status from the peer's
// committed decision, not from a snapshot taken before the lock. Here the
// post-lock reload shows the other metric already approved and the derived
// status lands on ready_for_final. Ordered expectations pin the statement
// sequence: metric CAS, row lock, reload, status write.
func TestSubmissionRepositoryDecideMetricDerivesFromPostLockReload(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submission_metrics")).
		WithArgs("partner-1", now, "sub-1", "newSurvivors").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT final_status FROM submissions WHERE id = $1 FOR UPDATE")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"final_status"}).AddRow("pending"))
	metricRows := sqlmock.NewRows([]string{"id", "submission_id", "field", "value", "approval_status", "approved_by", "approved_at", "rejection_reason", "created_at"}).
		AddRow("m-1", "sub-1", "safeHomes", 12.0, "approved", "partner-2", now, nil, now).
		AddRow("m-2", "sub-1", "newSurvivors", 3.0, "approved", "partner-1", now, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM submission_metrics")).
		WithArgs("sub-1").
		WillReturnRows(metricRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET status")).
		WithArgs("ready_for_final", now, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := repo.DecideMetric(context.Background(), DecideMetricParams{
		SubmissionID: "sub-1",
		Field:        "newSurvivors",
		Decision:     models.ApprovalApproved,
		ApproverID:   "partner-1",
		DecidedAt:    now,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusReadyForFinal, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryDecideMetricLoser(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submission_metrics")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT approval_status FROM submission_metrics")).
		WithArgs("sub-1", "safeHomes").
		WillReturnRows(sqlmock.NewRows([]string{"approval_status"}).AddRow("approved"))
	mock.ExpectRollback()

	_, err := repo.DecideMetric(context.Background(), DecideMetricParams{
		SubmissionID: "sub-1",
		Field:        "safeHomes",
		Decision:     models.ApprovalRejected,
		Reason:       "figures do not match report",
		DecidedAt:    now,
	})
	require.ErrorIs(t, err, ErrAlreadyDecided)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryDecideMetricNotFound(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submission_metrics")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT approval_status FROM submission_metrics")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.DecideMetric(context.Background(), DecideMetricParams{
		SubmissionID: "sub-1",
		Field:        "missing",
		Decision:     models.ApprovalApproved,
		ApproverID:   "admin-1",
		DecidedAt:    time.Now(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryFinalApprovePublishesLedger(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions")).
		WithArgs("admin-1", now, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT field FROM submission_metrics")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"field"}).AddRow("safeHomes").AddRow("newSurvivors"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO live_metrics")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO live_metrics")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.FinalApprove(context.Background(), FinalApproveParams{
		SubmissionID: "sub-1",
		ApproverID:   "admin-1",
		ApprovedAt:   now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryFinalApproveWrongState(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT true FROM submissions")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.FinalApprove(context.Background(), FinalApproveParams{
		SubmissionID: "sub-1",
		ApproverID:   "admin-1",
		ApprovedAt:   time.Now(),
	})
	require.ErrorIs(t, err, ErrAlreadyDecided)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryFinalReject(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions")).
		WithArgs("numbers inconsistent with narrative", now, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.FinalReject(context.Background(), "sub-1", "numbers inconsistent with narrative", now))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT true FROM submissions")).
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))

	err := repo.FinalReject(context.Background(), "sub-1", "again", now)
	require.ErrorIs(t, err, ErrAlreadyDecided)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryAppendChange(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submission_changes")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET last_modified")).
		WithArgs(now, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	change := &models.SubmissionChange{
		SubmissionID: "sub-1",
		Field:        "individualsReached",
		OldValue:     "150",
		NewValue:     "175",
		Reason:       "found additional registration forms",
	}
	require.NoError(t, repo.AppendChange(context.Background(), change, now))
	require.NotEmpty(t, change.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
