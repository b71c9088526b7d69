package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/safeguard-ngo/impact-api/internal/models"
)

// AttachmentRepository persists opaque attachment references.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts an attachment row.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.SubmissionAttachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO submission_attachments
	(id, submission_id, attachment_type, file_name, file_path, file_size, file_type, google_doc_id, created_at)
	VALUES (:id, :submission_id, :attachment_type, :file_name, :file_path, :file_size, :file_type, :google_doc_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, att); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// GetByID fetches an attachment by identifier.
func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*models.SubmissionAttachment, error) {
	const query = `SELECT id, submission_id, attachment_type, file_name, file_path, file_size, file_type, google_doc_id, created_at
	FROM submission_attachments WHERE id = $1`
	var att models.SubmissionAttachment
	if err := r.db.GetContext(ctx, &att, query, id); err != nil {
		return nil, err
	}
	return &att, nil
}

// ListBySubmission returns attachments for a submission in insertion order.
func (r *AttachmentRepository) ListBySubmission(ctx context.Context, submissionID string) ([]models.SubmissionAttachment, error) {
	const query = `SELECT id, submission_id, attachment_type, file_name, file_path, file_size, file_type, google_doc_id, created_at
	FROM submission_attachments WHERE submission_id = $1 ORDER BY created_at, id`
	var atts []models.SubmissionAttachment
	if err := r.db.SelectContext(ctx, &atts, query, submissionID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return atts, nil
}
