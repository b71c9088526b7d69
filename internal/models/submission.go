package models

import "time"

// ApprovalStatus captures the review state of a single metric.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// SubmissionStatus is the derived aggregate state of a submission.
type SubmissionStatus string

const (
	StatusPending           SubmissionStatus = "pending"
	StatusPartiallyApproved SubmissionStatus = "partially_approved"
	StatusReadyForFinal     SubmissionStatus = "ready_for_final"
	StatusApproved          SubmissionStatus = "approved"
	StatusRejected          SubmissionStatus = "rejected"
)

// Priority is the submitter-assigned triage level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SubmissionMetric is the smallest approvable unit: one named numeric value
// with its own review sub-state. Exactly one of approved_by/approved_at or
// rejection_reason is populated, matching approval_status; pending has
// neither. Rejections carry no reviewer identity.
type SubmissionMetric struct {
	ID              string         `db:"id" json:"id"`
	SubmissionID    string         `db:"submission_id" json:"submission_id"`
	Field           string         `db:"field" json:"field"`
	Value           float64        `db:"value" json:"value"`
	ApprovalStatus  ApprovalStatus `db:"approval_status" json:"approval_status"`
	ApprovedBy      *string        `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// SubmissionChange is an append-only audit entry recording an amendment to a
// previously submitted value. Changes never reset metric approval state.
type SubmissionChange struct {
	ID           string    `db:"id" json:"id"`
	SubmissionID string    `db:"submission_id" json:"submission_id"`
	Field        string    `db:"field" json:"field"`
	OldValue     string    `db:"old_value" json:"old_value"`
	NewValue     string    `db:"new_value" json:"new_value"`
	Reason       string    `db:"reason" json:"reason"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Submission bundles metrics, narrative fields, and audit history submitted
// for review. Status is always derived from the metric set plus the final
// approval block, never set independently.
type Submission struct {
	ID                   string           `db:"id" json:"id"`
	UserID               string           `db:"user_id" json:"user_id"`
	SubmittedAt          time.Time        `db:"submitted_at" json:"submitted_at"`
	LastModified         time.Time        `db:"last_modified" json:"last_modified"`
	Category             string           `db:"category" json:"category"`
	Location             string           `db:"location" json:"location"`
	Description          string           `db:"description" json:"description"`
	Priority             Priority         `db:"priority" json:"priority"`
	Language             string           `db:"language" json:"language,omitempty"`
	Status               SubmissionStatus `db:"status" json:"status"`
	FinalStatus          ApprovalStatus   `db:"final_status" json:"final_status"`
	FinalApprovedBy      *string          `db:"final_approved_by" json:"final_approved_by,omitempty"`
	FinalApprovedAt      *time.Time       `db:"final_approved_at" json:"final_approved_at,omitempty"`
	FinalRejectionReason *string          `db:"final_rejection_reason" json:"final_rejection_reason,omitempty"`

	Metrics []SubmissionMetric `db:"-" json:"metrics,omitempty"`
	Changes []SubmissionChange `db:"-" json:"changes,omitempty"`
}

// MetricByField returns the metric with the given field name, or nil.
func (s *Submission) MetricByField(field string) *SubmissionMetric {
	for i := range s.Metrics {
		if s.Metrics[i].Field == field {
			return &s.Metrics[i]
		}
	}
	return nil
}

// SubmissionFilter constrains listing queries.
type SubmissionFilter struct {
	UserID   string
	Statuses []SubmissionStatus
	Category string
	Location string
	Priority Priority
	Limit    int
	Offset   int
}
