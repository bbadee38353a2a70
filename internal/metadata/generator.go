// Package metadata generates descriptive document metadata with a chat model.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
)

const (
	// DefaultMaxTokens is the maximum content length before truncation (in tokens).
	DefaultMaxTokens = 16000

	// DefaultModel is the chat model used when none is configured.
	DefaultModel = string(openai.ChatModelGPT4oMini)
)

// DocumentMetadata contains LLM-generated metadata for a document.
type DocumentMetadata struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Generator produces a summary and keyword list for ingested documents.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a metadata generator with the given OpenAI client.
// Empty model and non-positive maxTokens select the defaults.
func NewGenerator(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *Generator {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// GenerateMetadata analyzes document content and produces a summary and keyword list.
func (g *Generator) GenerateMetadata(ctx context.Context, filename, content string) (*DocumentMetadata, error) {
	prompt := fmt.Sprintf(`Analyze this document and provide:
1. A concise summary (1-2 sentences) capturing the main topic and key points
2. A list of up to 10 keywords: names, terms and concepts a reader would search for

Document name: %s

Document content:
%s

Respond in JSON format:
{"summary": "Brief description of what this document covers", "keywords": ["Keyword1", "Keyword2"]}`,
		filename, g.truncateContent(content))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseResponse(resp.Choices[0].Message.Content)
}

func parseResponse(content string) (*DocumentMetadata, error) {
	var metadata DocumentMetadata
	if err := json.Unmarshal([]byte(content), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if metadata.Keywords == nil {
		metadata.Keywords = []string{}
	}
	return &metadata, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token and never splits a rune.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating content for metadata generation",
		"from_chars", len(runes), "to_chars", maxChars, "estimated_tokens", g.maxTokens)

	return string(runes[:maxChars])
}
