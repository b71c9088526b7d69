package dto

// TranslateRequest asks the external engine for a translation.
type TranslateRequest struct {
	Text           string `json:"text" validate:"required"`
	TargetLanguage string `json:"targetLanguage"`
}
