package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"lovebox_automation/lovebox-daily/apperr"
)

// DefaultGeminiModel is an image-capable Gemini model.
const DefaultGeminiModel = "gemini-2.5-flash-image"

// ContentGenerator is the part of the genai client the provider uses.
// (*genai.Models) satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates images with a multimodal Gemini model.
type Gemini struct {
	models ContentGenerator
	model  string
	log    zerolog.Logger
}

// NewGemini creates a Gemini provider backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, log zerolog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return NewGeminiWithModels(client.Models, model, log), nil
}

// NewGeminiWithModels creates a Gemini provider over an existing content generator.
func NewGeminiWithModels(models ContentGenerator, model string, log zerolog.Logger) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: models, model: model, log: log}
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if ref := req.ReferenceImage; ref != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data}})
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityText), string(genai.ModalityImage)},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, apperr.GenerationFailed("gemini request failed", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, apperr.GenerationFailed("gemini returned no candidates", nil)
	}

	var (
		caption []string
		result  *Result
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			caption = append(caption, strings.TrimSpace(part.Text))
		}
		if result == nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mimeType := part.InlineData.MIMEType
			if detected, ok := imageMIMEType(part.InlineData.Data); !ok {
				return nil, apperr.GenerationFailed(fmt.Sprintf("gemini returned undecodable image data (%s)", detected), nil)
			} else if mimeType == "" {
				mimeType = detected
			}
			result = &Result{Image: part.InlineData.Data, MIMEType: mimeType}
		}
	}

	text := strings.TrimSpace(strings.Join(caption, "\n"))
	if result == nil {
		msg := "gemini returned no image"
		if reason := resp.Candidates[0].FinishReason; reason != "" {
			msg += fmt.Sprintf(" (finish reason %s)", reason)
		}
		if text != "" {
			msg += ": " + text
		}
		return nil, apperr.GenerationFailed(msg, nil)
	}
	result.Caption = text

	g.log.Debug().Str("model", g.model).Int("bytes", len(result.Image)).Msg("image generated")
	return result, nil
}
