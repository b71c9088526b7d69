package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/translate"
)

type translatorStub struct {
	result *translate.Result
	err    error
	text   string
	target string
}

func (s *translatorStub) Translate(ctx context.Context, text, targetLanguage string) (*translate.Result, error) {
	s.text = text
	s.target = targetLanguage
	return s.result, s.err
}

func TestTranslationServicePassThrough(t *testing.T) {
	stub := &translatorStub{result: &translate.Result{
		OriginalText:     "नमस्ते",
		TranslatedText:   "Hello",
		DetectedLanguage: "ne",
		TargetLanguage:   "en",
	}}
	svc := NewTranslationService(stub, nil)

	result, err := svc.Translate(context.Background(), dto.TranslateRequest{Text: "नमस्ते", TargetLanguage: "en"})
	require.NoError(t, err)
	require.Equal(t, "Hello", result.TranslatedText)
	require.Equal(t, "नमस्ते", stub.text)
	require.Equal(t, "en", stub.target)
}

func TestTranslationServiceRequiresText(t *testing.T) {
	svc := NewTranslationService(&translatorStub{}, nil)

	_, err := svc.Translate(context.Background(), dto.TranslateRequest{Text: "   "})
	requireAppError(t, err, appErrors.ErrValidation.Code)
}

func TestTranslationServiceEngineFailure(t *testing.T) {
	stub := &translatorStub{err: errors.New("engine unavailable")}
	svc := NewTranslationService(stub, nil)

	_, err := svc.Translate(context.Background(), dto.TranslateRequest{Text: "hello", TargetLanguage: "ne"})
	requireAppError(t, err, appErrors.ErrInternal.Code)
}
