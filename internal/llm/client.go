// Package llm wraps the OpenAI API behind the two narrow capabilities the
// rest of the service needs: batched embeddings and chat completions.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	appErrors "tabgraph-backend/pkg/errors"
)

const (
	// EmbeddingDim is the dimensionality of text-embedding-3-small vectors.
	EmbeddingDim = 1536

	// MaxEmbedBatch is the provider's per-call input limit. Callers must
	// stay at or under it; this package does not split batches.
	MaxEmbedBatch = 2048
)

// CompletionOptions configures a chat completion request.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	// JSONMode forces a JSON-object response format.
	JSONMode bool
}

// Client is the OpenAI-backed embedding and completion client.
type Client struct {
	api            *openai.Client
	embeddingModel string
	llmModel       string
	logger         *zap.Logger
}

// NewClient builds a client with a fixed request timeout. Failures are
// surfaced to the caller; no retry happens at this layer.
func NewClient(apiKey, embeddingModel, llmModel string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:            openai.NewClientWithConfig(cfg),
		embeddingModel: embeddingModel,
		llmModel:       llmModel,
		logger:         logger,
	}
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one API call, returning vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxEmbedBatch {
		return nil, appErrors.NewValidation("embedding batch exceeds provider limit")
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, appErrors.NewExternal("embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, appErrors.NewExternal("embedding response size mismatch", nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, appErrors.NewExternal("embedding response index out of range", nil)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Complete runs a chat completion and returns the raw assistant text,
// stripped of surrounding whitespace and markdown code fences.
func (c *Client) Complete(ctx context.Context, system, prompt string, opts CompletionOptions) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.llmModel,
		Messages:    messages,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", appErrors.NewExternal("chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", appErrors.NewExternal("chat completion returned no choices", nil)
	}

	return StripFences(resp.Choices[0].Message.Content), nil
}

// StripFences removes markdown code fences the model sometimes wraps JSON in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
