package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/translate"
)

type translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (*translate.Result, error)
}

// TranslationService passes text through to the external translation engine.
// The engine is an opaque collaborator: no retries, no caching, and failures
// surface directly to the caller.
type TranslationService struct {
	client translator
	logger *zap.Logger
}

// NewTranslationService constructs the service.
func NewTranslationService(client translator, logger *zap.Logger) *TranslationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranslationService{client: client, logger: logger}
}

// Translate forwards the request to the engine.
func (s *TranslationService) Translate(ctx context.Context, req dto.TranslateRequest) (*translate.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "text is required")
	}

	result, err := s.client.Translate(ctx, req.Text, req.TargetLanguage)
	if err != nil {
		s.logger.Warn("translation engine call failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "translation failed")
	}
	return result, nil
}
