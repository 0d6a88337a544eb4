package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	domai "github.com/bryanwahyu/homeguard/internal/domain/ai"
	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
	"github.com/bryanwahyu/homeguard/internal/infra/ai/prompt"
)

const maxTokens = 4096

type Client struct {
	*openai.Client
	ReportModel string
	VisionModel string
}

func NewClient(apiKey, reportModel, visionModel string) *Client {
	return &Client{Client: openai.NewClient(apiKey), ReportModel: reportModel, VisionModel: visionModel}
}

// GenerateReport implements ai.ReportClient: one multimodal call per batch,
// all buffers attached as data URLs, JSON response format enforced.
func (c *Client) GenerateReport(ctx context.Context, location string, images []domai.ImageInput) (string, error) {
	model := c.ReportModel
	if model == "" {
		model = openai.GPT4o
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt.ReportUserPrompt(location, len(images))},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.ReportSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	applyTokenLimit(&req, model)

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Describe implements ai.Describer for the heuristic scoring path.
func (c *Client) Describe(ctx context.Context, img domai.ImageInput) (*assessment.Signals, error) {
	model := c.VisionModel
	if model == "" {
		model = openai.GPT4oMini
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.DescribeSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt.DescribeUserPrompt()},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(img),
					Detail: openai.ImageURLDetailLow,
				}},
			}},
		},
	}
	applyTokenLimit(&req, model)

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	var sig assessment.Signals
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &sig); err != nil {
		return nil, fmt.Errorf("unparsable describe output: %w", err)
	}
	return &sig, nil
}

// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
func applyTokenLimit(req *openai.ChatCompletionRequest, model string) {
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", domai.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("chat completion failed: %w", err)
}

func dataURL(img domai.ImageInput) string {
	ct := img.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
