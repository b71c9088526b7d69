package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/response"
	"github.com/safeguard-ngo/impact-api/pkg/translate"
)

type translationService interface {
	Translate(ctx context.Context, req dto.TranslateRequest) (*translate.Result, error)
}

// TranslateHandler proxies text to the external translation engine.
type TranslateHandler struct {
	service translationService
}

// NewTranslateHandler constructs the handler.
func NewTranslateHandler(service translationService) *TranslateHandler {
	return &TranslateHandler{service: service}
}

// Translate godoc
// @Summary Translate text via the configured engine
// @Tags Translation
// @Accept json
// @Produce json
// @Param payload body dto.TranslateRequest true "Text and target language"
// @Success 200 {object} response.Envelope
// @Router /translate [post]
func (h *TranslateHandler) Translate(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "translation is disabled"))
		return
	}
	var req dto.TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid translation payload"))
		return
	}
	result, err := h.service.Translate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
