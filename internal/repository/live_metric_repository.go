package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/safeguard-ngo/impact-api/internal/models"
)

// LiveMetricRepository reads the published-metrics ledger. The ledger is
// insert-only and rows are written exclusively by the final-approval
// transaction in SubmissionRepository.
type LiveMetricRepository struct {
	db *sqlx.DB
}

// NewLiveMetricRepository constructs the repository.
func NewLiveMetricRepository(db *sqlx.DB) *LiveMetricRepository {
	return &LiveMetricRepository{db: db}
}

func liveMetricConditions(filter models.LiveMetricFilter, args *[]interface{}) []string {
	conditions := make([]string, 0, 4)
	if filter.Year > 0 {
		*args = append(*args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(*args)))
	}
	if filter.Category != "" {
		*args = append(*args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(*args)))
	}
	if filter.Location != "" {
		*args = append(*args, filter.Location)
		conditions = append(conditions, fmt.Sprintf("location = $%d", len(*args)))
	}
	if filter.Field != "" {
		*args = append(*args, filter.Field)
		conditions = append(conditions, fmt.Sprintf("field = $%d", len(*args)))
	}
	return conditions
}

// List returns ledger rows matching the filter, newest year first.
func (r *LiveMetricRepository) List(ctx context.Context, filter models.LiveMetricFilter) ([]models.LiveMetric, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT id, submission_id, field, value, approved_by, approved_at, category, location, year FROM live_metrics`)
	if conditions := liveMetricConditions(filter, &args); len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY year DESC, category, field")

	var rows []models.LiveMetric
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list live metrics: %w", err)
	}
	return rows, nil
}

// Totals aggregates published values per field and year.
func (r *LiveMetricRepository) Totals(ctx context.Context, filter models.LiveMetricFilter) ([]models.LiveMetricTotal, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT field, year, SUM(value) AS total FROM live_metrics`)
	if conditions := liveMetricConditions(filter, &args); len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY field, year ORDER BY field, year")

	var totals []models.LiveMetricTotal
	if err := r.db.SelectContext(ctx, &totals, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("aggregate live metrics: %w", err)
	}
	return totals, nil
}
