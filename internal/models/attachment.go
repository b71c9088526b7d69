package models

import "time"

// AttachmentType enumerates supported attachment kinds.
type AttachmentType string

const (
	AttachmentFile     AttachmentType = "file"
	AttachmentVoice    AttachmentType = "voice"
	AttachmentDocument AttachmentType = "document"
)

// SubmissionAttachment is an opaque reference carried by a submission. The
// core stores and serves it without interpreting its content.
type SubmissionAttachment struct {
	ID             string         `db:"id" json:"id"`
	SubmissionID   string         `db:"submission_id" json:"submission_id"`
	AttachmentType AttachmentType `db:"attachment_type" json:"attachment_type"`
	FileName       string         `db:"file_name" json:"file_name"`
	FilePath       *string        `db:"file_path" json:"file_path,omitempty"`
	FileSize       *int64         `db:"file_size" json:"file_size,omitempty"`
	FileType       string         `db:"file_type" json:"file_type"`
	GoogleDocID    *string        `db:"google_doc_id" json:"google_doc_id,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`

	// DownloadToken is a short-lived signed token, set on read when a
	// signer is configured. Never persisted.
	DownloadToken string `db:"-" json:"download_token,omitempty"`
}
