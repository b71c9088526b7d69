package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/workflow"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/storage"
)

type attachmentStore interface {
	Create(ctx context.Context, att *models.SubmissionAttachment) error
	ListBySubmission(ctx context.Context, submissionID string) ([]models.SubmissionAttachment, error)
}

type attachmentFileStore interface {
	SaveStream(filename string, r io.Reader) (string, int64, error)
	Remove(filename string) error
}

type attachmentSubmissionLoader interface {
	GetByID(ctx context.Context, id string) (*models.Submission, error)
}

// AttachmentService registers opaque attachment references on submissions.
// Content is stored as-is and never interpreted; a google_doc_id reference
// may stand in for local content entirely.
type AttachmentService struct {
	repo        attachmentStore
	submissions attachmentSubmissionLoader
	files       attachmentFileStore
	audit       auditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	maxSize     int64
	signer      *storage.SignedURLSigner
}

// NewAttachmentService constructs the service.
func NewAttachmentService(repo attachmentStore, submissions attachmentSubmissionLoader, files attachmentFileStore, audit auditLogger, validate *validator.Validate, maxSize int64, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AttachmentService{
		repo:        repo,
		submissions: submissions,
		files:       files,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		maxSize:     maxSize,
	}
}

// WithSigner enables short-lived download tokens on listed attachments.
func (s *AttachmentService) WithSigner(signer *storage.SignedURLSigner) *AttachmentService {
	s.signer = signer
	return s
}

// Register stores an attachment reference on the submitter's own open
// submission. When content is provided it is written to the file store;
// otherwise only the metadata row is kept.
func (s *AttachmentService) Register(ctx context.Context, submissionID string, req dto.CreateAttachmentRequest, content io.Reader, actor *models.JWTClaims) (*models.SubmissionAttachment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attachment payload")
	}
	switch req.AttachmentType {
	case models.AttachmentFile, models.AttachmentVoice, models.AttachmentDocument:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment type must be file, voice, or document")
	}

	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, appErrors.ErrNotFound
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionRecordChange, sub, actor.UserID) {
		if workflow.Terminal(sub.Status) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is already finalized")
		}
		return nil, appErrors.ErrForbidden
	}

	att := &models.SubmissionAttachment{
		SubmissionID:   sub.ID,
		AttachmentType: req.AttachmentType,
		FileName:       req.FileName,
		FileType:       req.FileType,
	}
	if docID := strings.TrimSpace(req.GoogleDocID); docID != "" {
		att.GoogleDocID = &docID
	}

	if content != nil && s.files != nil {
		reader := content
		if s.maxSize > 0 {
			reader = io.LimitReader(content, s.maxSize+1)
		}
		path, size, err := s.files.SaveStream(filepath.Join(sub.ID, req.FileName), reader)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment content")
		}
		if s.maxSize > 0 && size > s.maxSize {
			if err := s.files.Remove(path); err != nil {
				s.logger.Warn("failed to remove oversize attachment", zap.Error(err))
			}
			return nil, appErrors.Clone(appErrors.ErrValidation, "attachment exceeds the maximum allowed size")
		}
		att.FilePath = &path
		att.FileSize = &size
	}

	if att.FilePath == nil && att.GoogleDocID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment requires content or a google doc reference")
	}

	if err := s.repo.Create(ctx, att); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register attachment")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionAttachmentCreate,
			Resource:   "submission",
			ResourceID: &sub.ID,
			NewValues:  []byte(`{"attachment":"` + att.ID + `"}`),
			IPAddress:  "system",
			UserAgent:  "attachment-service",
		}); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return att, nil
}

// List returns attachments for a submission the actor may view.
func (s *AttachmentService) List(ctx context.Context, submissionID string, actor *models.JWTClaims) ([]models.SubmissionAttachment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, appErrors.ErrNotFound
	}
	if !workflow.CanPerform(actor.Role, workflow.ActionView, sub, actor.UserID) {
		return nil, appErrors.ErrForbidden
	}
	atts, err := s.repo.ListBySubmission(ctx, sub.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attachments")
	}
	if s.signer != nil {
		for i := range atts {
			if atts[i].FilePath == nil {
				continue
			}
			token, _, err := s.signer.Generate(atts[i].ID, *atts[i].FilePath)
			if err != nil {
				s.logger.Warn("failed to sign attachment token", zap.Error(err))
				continue
			}
			atts[i].DownloadToken = token
		}
	}
	return atts, nil
}
