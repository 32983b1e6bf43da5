package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultEmbeddingModel is used when no embedding model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Config holds the provider settings shared by the client constructors.
type Config struct {
	Endpoint  string // base URL, e.g. "https://api.openai.com/v1"
	Model     string // chat model, e.g. "gpt-4o"
	APIKey    string // may be empty for local endpoints
	MaxTokens int    // completion budget, zero leaves it to the server
}

// Client talks to OpenAI-compatible chat and embedding endpoints, including
// local servers such as vLLM and Ollama.
type Client struct {
	api       *openai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewClient creates an OpenAI-compatible client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("endpoint is required")
	case cfg.Model == "":
		return nil, fmt.Errorf("model is required")
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		api:       openai.NewClientWithConfig(apiConfig),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm").With(zap.String("provider", ProviderOpenAI), zap.String("model", cfg.Model)),
	}, nil
}

func (c *Client) chatRequest(prompt, systemMessage string, temperature float64, thinking bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
		MaxTokens:   c.maxTokens,
		// Honored by servers whose chat template has a reasoning switch.
		ChatTemplateKwargs: map[string]any{"enable_thinking": thinking},
	}
}

// GenerateResponse sends one system plus user exchange and returns the
// first choice. A reply cut off by the token budget is returned as is; the
// caller's JSON contract rejects it.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, c.chatRequest(prompt, systemMessage, temperature, thinking))
	elapsed := time.Since(start)
	if err != nil {
		classified := ClassifyError(err)
		c.logger.Warn("LLM completion failed",
			zap.String("error_type", string(classified.Type)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeUnknown, "completion has no choices", true, nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		c.logger.Warn("LLM completion hit the token budget", zap.Int("max_tokens", c.maxTokens))
	}
	c.logger.Debug("LLM completion",
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))

	return &GenerateResponseResult{
		Content:          choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// CreateEmbedding embeds a single input.
func (c *Client) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings embeds inputs in one request and returns the vectors in
// input order. A response missing any vector is an error.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", ClassifyError(err))
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, NewError(ErrorTypeUnknown, fmt.Sprintf("embedding response has no vector for input %d", i), false, nil)
		}
	}
	return vectors, nil
}

// GetModel returns the chat model.
func (c *Client) GetModel() string { return c.model }

// GetEndpoint returns the base URL.
func (c *Client) GetEndpoint() string { return c.endpoint }
