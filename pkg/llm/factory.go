package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStub      = "stub"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// NewClientFromConfig builds the configured provider client. Network
// providers are wrapped in a ResilientClient; the stub is returned as is.
func NewClientFromConfig(cfg config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	base := &Config{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var inner LLMClient
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if base.Endpoint == "" {
			base.Endpoint = defaultOpenAIEndpoint
		}
		client, err := NewClient(base, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		inner = client
	case ProviderAnthropic:
		client, err := NewAnthropicClient(base, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		inner = client
	case ProviderStub:
		if cfg.StubScript == "" {
			return NewStubClient(StubScript{}), nil
		}
		return LoadStubScript(cfg.StubScript)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerFails,
		ResetAfter: cfg.BreakerReset,
	})
	return NewResilientClient(inner, breaker, cfg.MaxRetries, logger), nil
}
