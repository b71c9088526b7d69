package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/workflow"
)

// ErrAlreadyDecided signals a compare-and-set miss: the row exists but its
// state no longer admits the requested transition.
var ErrAlreadyDecided = errors.New("state already decided")

// SubmissionRepository persists submissions, their metrics, change history,
// and the published-metrics ledger.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, user_id, submitted_at, last_modified, category, location, description,
       priority, language, status, final_status, final_approved_by, final_approved_at, final_rejection_reason`

const metricColumns = `id, submission_id, field, value, approval_status, approved_by, approved_at, rejection_reason, created_at`

// Create inserts a submission together with its pending metrics in one
// transaction.
func (r *SubmissionRepository) Create(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = now
	}
	if sub.LastModified.IsZero() {
		sub.LastModified = sub.SubmittedAt
	}
	if sub.Status == "" {
		sub.Status = models.StatusPending
	}
	if sub.FinalStatus == "" {
		sub.FinalStatus = models.ApprovalPending
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create submission: %w", err)
	}

	const insertSubmission = `INSERT INTO submissions
	(id, user_id, submitted_at, last_modified, category, location, description, priority, language, status, final_status)
	VALUES (:id, :user_id, :submitted_at, :last_modified, :category, :location, :description, :priority, :language, :status, :final_status)`
	if _, err := tx.NamedExecContext(ctx, insertSubmission, sub); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert submission: %w", err)
	}

	const insertMetric = `INSERT INTO submission_metrics
	(id, submission_id, field, value, approval_status, created_at)
	VALUES (:id, :submission_id, :field, :value, :approval_status, :created_at)`
	for i := range sub.Metrics {
		m := &sub.Metrics[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.SubmissionID = sub.ID
		if m.ApprovalStatus == "" {
			m.ApprovalStatus = models.ApprovalPending
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, insertMetric, m); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert submission metric: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create submission: %w", err)
	}
	return nil
}

// GetByID fetches a submission with its metrics and change history.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE id = $1`, submissionColumns)
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubmissionRepository) loadRelations(ctx context.Context, sub *models.Submission) error {
	metricsQuery := fmt.Sprintf(`SELECT %s FROM submission_metrics WHERE submission_id = $1 ORDER BY created_at, field`, metricColumns)
	if err := r.db.SelectContext(ctx, &sub.Metrics, metricsQuery, sub.ID); err != nil {
		return fmt.Errorf("load submission metrics: %w", err)
	}
	const changesQuery = `SELECT id, submission_id, field, old_value, new_value, reason, created_at
	FROM submission_changes WHERE submission_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &sub.Changes, changesQuery, sub.ID); err != nil {
		return fmt.Errorf("load submission changes: %w", err)
	}
	return nil
}

// List returns submissions matching the filter, newest first, with their
// metrics attached.
func (r *SubmissionRepository) List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM submissions`, submissionColumns))

	if conditions := submissionConditions(filter, &args); len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY submitted_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var subs []models.Submission
	if err := r.db.SelectContext(ctx, &subs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	for i := range subs {
		if err := r.loadRelations(ctx, &subs[i]); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func submissionConditions(filter models.SubmissionFilter, args *[]interface{}) []string {
	conditions := make([]string, 0, 5)
	if filter.UserID != "" {
		*args = append(*args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(*args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			*args = append(*args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(*args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != "" {
		*args = append(*args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(*args)))
	}
	if filter.Location != "" {
		*args = append(*args, filter.Location)
		conditions = append(conditions, fmt.Sprintf("location = $%d", len(*args)))
	}
	if filter.Priority != "" {
		*args = append(*args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(*args)))
	}
	return conditions
}

// Count returns the number of submissions matching the filter, ignoring
// pagination.
func (r *SubmissionRepository) Count(ctx context.Context, filter models.SubmissionFilter) (int, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT COUNT(*) FROM submissions`)
	if conditions := submissionConditions(filter, &args); len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	var count int
	if err := r.db.GetContext(ctx, &count, builder.String(), args...); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

// AppendChange records an amendment and bumps last_modified in one
// transaction. Metric approval state is deliberately left untouched.
func (r *SubmissionRepository) AppendChange(ctx context.Context, change *models.SubmissionChange, now time.Time) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = now
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append change: %w", err)
	}
	const insertChange = `INSERT INTO submission_changes
	(id, submission_id, field, old_value, new_value, reason, created_at)
	VALUES (:id, :submission_id, :field, :old_value, :new_value, :reason, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertChange, change); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert submission change: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET last_modified = $1 WHERE id = $2`, now, change.SubmissionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("bump last_modified: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append change: %w", err)
	}
	return nil
}

// DecideMetricParams groups a metric approval or rejection.
type DecideMetricParams struct {
	SubmissionID string
	Field        string
	Decision     models.ApprovalStatus
	ApproverID   string
	Reason       string
	DecidedAt    time.Time
}

// DecideMetric transitions one metric out of pending and recomputes the
// aggregate status in the same transaction. The metric update is an
// optimistic compare-and-set on approval_status: a concurrent decision on
// the same metric leaves exactly one winner, and the loser observes
// ErrAlreadyDecided.
func (r *SubmissionRepository) DecideMetric(ctx context.Context, params DecideMetricParams) (models.SubmissionStatus, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin decide metric: %w", err)
	}

	var result sql.Result
	switch params.Decision {
	case models.ApprovalApproved:
		result, err = tx.ExecContext(ctx, `UPDATE submission_metrics
			SET approval_status = 'approved', approved_by = $1, approved_at = $2
			WHERE submission_id = $3 AND field = $4 AND approval_status = 'pending'`,
			params.ApproverID, params.DecidedAt, params.SubmissionID, params.Field)
	case models.ApprovalRejected:
		result, err = tx.ExecContext(ctx, `UPDATE submission_metrics
			SET approval_status = 'rejected', rejection_reason = $1
			WHERE submission_id = $2 AND field = $3 AND approval_status = 'pending'`,
			params.Reason, params.SubmissionID, params.Field)
	default:
		tx.Rollback() //nolint:errcheck
		return "", fmt.Errorf("unsupported metric decision: %s", params.Decision)
	}
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return "", fmt.Errorf("update metric status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return "", fmt.Errorf("check metric update rows: %w", err)
	}
	if rows == 0 {
		var existing string
		err := tx.GetContext(ctx, &existing, `SELECT approval_status FROM submission_metrics WHERE submission_id = $1 AND field = $2`,
			params.SubmissionID, params.Field)
		tx.Rollback() //nolint:errcheck
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		if err != nil {
			return "", fmt.Errorf("inspect metric state: %w", err)
		}
		return "", ErrAlreadyDecided
	}

	// The submission row lock must be taken before the metric set is
	// re-read. Concurrent decisions on different metrics of the same
	// submission serialize here; the metric reload after the lock then
	// sees every committed peer decision, so the derived status is never
	// computed from a stale snapshot.
	var finalStatus models.ApprovalStatus
	if err := tx.GetContext(ctx, &finalStatus, `SELECT final_status FROM submissions WHERE id = $1 FOR UPDATE`, params.SubmissionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return "", fmt.Errorf("lock submission: %w", err)
	}

	var metrics []models.SubmissionMetric
	metricsQuery := fmt.Sprintf(`SELECT %s FROM submission_metrics WHERE submission_id = $1 ORDER BY created_at, field`, metricColumns)
	if err := tx.SelectContext(ctx, &metrics, metricsQuery, params.SubmissionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return "", fmt.Errorf("reload metrics: %w", err)
	}

	status := workflow.DeriveStatus(metrics, finalStatus)
	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET status = $1, last_modified = $2 WHERE id = $3`,
		status, params.DecidedAt, params.SubmissionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return "", fmt.Errorf("update submission status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit decide metric: %w", err)
	}
	return status, nil
}

// FinalApproveParams groups the publication step inputs.
type FinalApproveParams struct {
	SubmissionID string
	ApproverID   string
	ApprovedAt   time.Time
}

// FinalApprove publishes a ready_for_final submission: a compare-and-set
// marks it approved, then one ledger row is inserted per approved metric.
// Everything runs in a single transaction; a partial failure rolls back both
// the status flip and the ledger rows. The ON CONFLICT guard makes a retry
// after a commit-time failure idempotent.
func (r *SubmissionRepository) FinalApprove(ctx context.Context, params FinalApproveParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin final approval: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE submissions
		SET status = 'approved', final_status = 'approved', final_approved_by = $1, final_approved_at = $2, last_modified = $2
		WHERE id = $3 AND status = 'ready_for_final'`,
		params.ApproverID, params.ApprovedAt, params.SubmissionID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("mark submission approved: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("check approval rows: %w", err)
	}
	if rows == 0 {
		var exists bool
		err := tx.GetContext(ctx, &exists, `SELECT true FROM submissions WHERE id = $1`, params.SubmissionID)
		tx.Rollback() //nolint:errcheck
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("inspect submission state: %w", err)
		}
		return ErrAlreadyDecided
	}

	const publish = `INSERT INTO live_metrics (id, submission_id, field, value, approved_by, approved_at, category, location, year)
	SELECT $1, m.submission_id, m.field, m.value, $2, $3, s.category, s.location, EXTRACT(YEAR FROM s.submitted_at)::int
	FROM submission_metrics m
	JOIN submissions s ON s.id = m.submission_id
	WHERE m.submission_id = $4 AND m.field = $5 AND m.approval_status = 'approved'
	ON CONFLICT (submission_id, field) DO NOTHING`

	var fields []string
	if err := tx.SelectContext(ctx, &fields, `SELECT field FROM submission_metrics WHERE submission_id = $1 AND approval_status = 'approved' ORDER BY created_at, field`, params.SubmissionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("list approved metrics: %w", err)
	}
	for _, field := range fields {
		if _, err := tx.ExecContext(ctx, publish, uuid.NewString(), params.ApproverID, params.ApprovedAt, params.SubmissionID, field); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("publish live metric %s: %w", field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit final approval: %w", err)
	}
	return nil
}

// FinalReject terminally rejects a submission with a reason. Allowed from
// any open state; the compare-and-set excludes terminal states so a repeat
// call surfaces ErrAlreadyDecided.
func (r *SubmissionRepository) FinalReject(ctx context.Context, id, reason string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE submissions
		SET status = 'rejected', final_status = 'rejected', final_rejection_reason = $1, last_modified = $2
		WHERE id = $3 AND status NOT IN ('approved', 'rejected')`,
		reason, now, id)
	if err != nil {
		return fmt.Errorf("mark submission rejected: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rejection rows: %w", err)
	}
	if rows == 0 {
		var exists bool
		err := r.db.GetContext(ctx, &exists, `SELECT true FROM submissions WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("inspect submission state: %w", err)
		}
		return ErrAlreadyDecided
	}
	return nil
}
