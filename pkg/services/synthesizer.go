package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/prompts"
)

// Narrative is a short natural language answer over an execution result.
type Narrative struct {
	Response   string   `json:"response"`
	Highlights []string `json:"highlights"`
}

// Synthesizer summarizes query results with the LLM.
type Synthesizer struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(client llm.LLMClient, temperature float64, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{client: client, temperature: temperature, logger: logger.Named("synthesizer")}
}

// Summarize answers question from the rows of result. Only column names and
// a sample of rows are sent to the LLM.
func (s *Synthesizer) Summarize(ctx context.Context, question string, result *models.ExecutionResult) (*Narrative, error) {
	if result == nil {
		return nil, fmt.Errorf("no result to summarize")
	}

	prompt := prompts.BuildSynthesisPrompt(question, result)
	reply, err := s.client.GenerateResponse(ctx, prompt, prompts.SynthesisSystemMessage, s.temperature, false)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	raw, err := llm.ExtractJSON(reply.Content)
	if err != nil {
		s.logger.Debug("Synthesis reply is not JSON",
			zap.String("reply_preview", logging.SanitizeLLMText(reply.Content)))
		return nil, fmt.Errorf("synthesis reply: %w", err)
	}

	var narrative Narrative
	if err := json.Unmarshal([]byte(raw), &narrative); err != nil {
		return nil, fmt.Errorf("decode synthesis reply: %w", err)
	}
	narrative.Response = strings.TrimSpace(narrative.Response)
	if narrative.Response == "" {
		return nil, fmt.Errorf("synthesis reply has no response")
	}
	if narrative.Highlights == nil {
		narrative.Highlights = []string{}
	}
	return &narrative, nil
}
