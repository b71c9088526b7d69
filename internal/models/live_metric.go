package models

import "time"

// LiveMetric is one row of the published-metrics ledger. Rows are created
// exactly once per approved metric at final approval time and are never
// updated or deleted; corrections require a new submission cycle.
type LiveMetric struct {
	ID           string     `db:"id" json:"id"`
	SubmissionID string     `db:"submission_id" json:"submission_id"`
	Field        string     `db:"field" json:"field"`
	Value        float64    `db:"value" json:"value"`
	ApprovedBy   string     `db:"approved_by" json:"approved_by"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	Category     string     `db:"category" json:"category"`
	Location     string     `db:"location" json:"location"`
	Year         int        `db:"year" json:"year"`
}

// LiveMetricFilter constrains ledger queries.
type LiveMetricFilter struct {
	Year     int
	Category string
	Location string
	Field    string
}

// LiveMetricTotal aggregates the ledger per field and year.
type LiveMetricTotal struct {
	Field string  `db:"field" json:"field"`
	Year  int     `db:"year" json:"year"`
	Total float64 `db:"total" json:"total"`
}
