// Package generator turns a prompt, and optionally a reference photo, into
// an image using a hosted model.
package generator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/apperr"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Image is an encoded image with its MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one generation request.
type Request struct {
	Prompt string
	// ReferenceImage is an optional photo the model should base the people on.
	ReferenceImage *Image
}

// Result is a generated image plus any text the model returned with it.
type Result struct {
	Image    []byte
	MIMEType string
	Caption  string
}

// Generator produces one image per call. Every failure is an
// apperr.ErrGenerationFailed.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, apperr.ConfigurationMissing("GEMINI_API_KEY")
		}
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, log)
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, apperr.ConfigurationMissing("OPENAI_API_KEY")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}

// LoadImage reads an image file and sniffs its MIME type.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.ResourceUnavailable(path, err)
	}
	mimeType, ok := imageMIMEType(data)
	if !ok {
		return nil, apperr.ResourceUnavailable(path, fmt.Errorf("not an image (detected %s)", mimeType))
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

// imageMIMEType sniffs data and reports whether it looks like an image.
func imageMIMEType(data []byte) (string, bool) {
	mimeType := http.DetectContentType(data)
	return mimeType, strings.HasPrefix(mimeType, "image/")
}
