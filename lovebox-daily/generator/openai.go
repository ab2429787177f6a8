package generator

import (
	"context"
	"encoding/base64"

	"github.com/sashabaranov/go-openai"

	"lovebox_automation/lovebox-daily/apperr"
)

// asIsPrefix keeps DALL·E 3 from rewriting the prompt.
const asIsPrefix = "I NEED to test how the tool works with extremely simple prompts. DO NOT add any detail, just use it AS-IS: "

// OpenAI generates images with DALL·E.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI provider. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), model: model}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.ReferenceImage != nil {
		return nil, apperr.GenerationFailed("openai provider does not support reference photos", nil)
	}

	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         asIsPrefix + req.Prompt,
		Model:          o.model,
		N:              1,
		Size:           openai.CreateImageSize1792x1024,
		Quality:        openai.CreateImageQualityStandard,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, apperr.GenerationFailed("openai image generation failed", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, apperr.GenerationFailed("openai returned no image", nil)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, apperr.GenerationFailed("openai returned undecodable image data", err)
	}
	mimeType, ok := imageMIMEType(data)
	if !ok {
		return nil, apperr.GenerationFailed("openai returned data that is not an image ("+mimeType+")", nil)
	}
	return &Result{Image: data, MIMEType: mimeType, Caption: resp.Data[0].RevisedPrompt}, nil
}
