package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/retry"
)

// ResilientClient retries transient failures of an inner client and stops
// calling it while its circuit breaker is open.
type ResilientClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

// NewResilientClient wraps inner. maxRetries is the number of retries after
// the first attempt.
func NewResilientClient(inner LLMClient, breaker *CircuitBreaker, maxRetries int, logger *zap.Logger) *ResilientClient {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.InitialDelay = 250 * time.Millisecond
	cfg.MaxDelay = 4 * time.Second
	return &ResilientClient{
		inner:   inner,
		breaker: breaker,
		retry:   cfg,
		logger:  logger.Named("llm-resilient"),
	}
}

func (c *ResilientClient) call(ctx context.Context, op string, fn func() error) error {
	return retry.DoIfRetryable(ctx, c.retry, func() error {
		if ok, err := c.breaker.Allow(); !ok {
			return err
		}
		err := fn()
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			c.breaker.Abandon()
			return ctx.Err()
		}
		if IsRetryable(err) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.Abandon()
		}
		c.logger.Warn("LLM call failed",
			zap.String("op", op),
			zap.String("circuit", c.breaker.State().String()),
			zap.Error(err))
		return err
	})
}

func (c *ResilientClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	var result *GenerateResponseResult
	err := c.call(ctx, "generate", func() error {
		r, err := c.inner.GenerateResponse(ctx, prompt, systemMessage, temperature, thinking)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *ResilientClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	var result []float32
	err := c.call(ctx, "embedding", func() error {
		r, err := c.inner.CreateEmbedding(ctx, input, model)
		result = r
		return err
	})
	return result, err
}

func (c *ResilientClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	var result [][]float32
	err := c.call(ctx, "embeddings", func() error {
		r, err := c.inner.CreateEmbeddings(ctx, inputs, model)
		result = r
		return err
	})
	return result, err
}

func (c *ResilientClient) GetModel() string {
	return c.inner.GetModel()
}

func (c *ResilientClient) GetEndpoint() string {
	return c.inner.GetEndpoint()
}
