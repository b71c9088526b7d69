package handler

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/response"
)

type attachmentService interface {
	Register(ctx context.Context, submissionID string, req dto.CreateAttachmentRequest, content io.Reader, actor *models.JWTClaims) (*models.SubmissionAttachment, error)
	List(ctx context.Context, submissionID string, actor *models.JWTClaims) ([]models.SubmissionAttachment, error)
}

// AttachmentHandler registers and lists opaque attachment references.
type AttachmentHandler struct {
	service attachmentService
}

// NewAttachmentHandler constructs the handler.
func NewAttachmentHandler(service attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

// Create godoc
// @Summary Attach a file, voice note, or document reference
// @Tags Submissions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Submission ID"
// @Param attachmentType formData string true "file, voice, or document"
// @Param fileName formData string true "Original file name"
// @Param fileType formData string true "MIME type"
// @Param googleDocId formData string false "Google Doc reference"
// @Param content formData file false "Attachment content"
// @Success 201 {object} response.Envelope
// @Router /submissions/{id}/attachments [post]
func (h *AttachmentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := dto.CreateAttachmentRequest{
		AttachmentType: models.AttachmentType(c.PostForm("attachmentType")),
		FileName:       c.PostForm("fileName"),
		FileType:       c.PostForm("fileType"),
		GoogleDocID:    c.PostForm("googleDocId"),
	}

	var content io.Reader
	if fileHeader, err := c.FormFile("content"); err == nil && fileHeader != nil {
		file, err := fileHeader.Open()
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unable to read attachment content"))
			return
		}
		defer closeMultipart(file)
		content = file
		if req.FileName == "" {
			req.FileName = fileHeader.Filename
		}
	}

	att, err := h.service.Register(c.Request.Context(), c.Param("id"), req, content, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, att, nil)
}

// List godoc
// @Summary List attachments on a submission
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/attachments [get]
func (h *AttachmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	atts, err := h.service.List(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, atts, nil)
}

func closeMultipart(f multipart.File) {
	_ = f.Close()
}
