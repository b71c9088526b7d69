package dto

import "github.com/safeguard-ngo/impact-api/internal/models"

// CreateSubmissionRequest is the payload for a new field submission. Metrics
// maps field names to submitted values; blank fields are simply omitted by
// the client and never become zero-value metrics.
type CreateSubmissionRequest struct {
	Category    string             `json:"category" validate:"required"`
	Location    string             `json:"location" validate:"required"`
	Description string             `json:"description" validate:"required"`
	Priority    models.Priority    `json:"priority"`
	Language    string             `json:"language"`
	Metrics     map[string]float64 `json:"metrics" validate:"required,min=1"`
}

// RecordChangeRequest amends a previously submitted value with a reason.
type RecordChangeRequest struct {
	Field    string `json:"field" validate:"required"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

// RejectRequest carries the mandatory reason for metric or final rejection.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// SubmissionQuery mirrors supported listing filters.
type SubmissionQuery struct {
	Statuses []models.SubmissionStatus
	Category string
	Location string
	Priority models.Priority
	Page     int
	PageSize int
}

// CreateAttachmentRequest registers an opaque attachment reference.
type CreateAttachmentRequest struct {
	AttachmentType models.AttachmentType `json:"attachmentType" validate:"required"`
	FileName       string                `json:"fileName" validate:"required"`
	FileType       string                `json:"fileType" validate:"required"`
	GoogleDocID    string                `json:"googleDocId"`
}
