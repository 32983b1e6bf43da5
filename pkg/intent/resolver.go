package intent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/prompts"
)

// Repair kinds recorded in metrics.
const (
	repairMalformed = "malformed"
	repairContract  = "contract"
	repairBinding   = "binding"
)

// Resolver turns a question into a bound Intent by prompting the LLM and
// repairing rejected replies a bounded number of times.
type Resolver struct {
	client       llm.LLMClient
	maxRepairs   int
	maxMalformed int
	temperature  float64
	timeout      time.Duration
	logger       *zap.Logger
}

// NewResolver creates a Resolver. timeout bounds each LLM call; zero leaves
// only the caller's deadline.
func NewResolver(client llm.LLMClient, cfg config.IntentConfig, temperature float64, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		client:       client,
		maxRepairs:   max(cfg.MaxRepairs, 0),
		maxMalformed: max(cfg.MaxMalformedRepairs, 0),
		temperature:  temperature,
		timeout:      timeout,
		logger:       logger.Named("intent"),
	}
}

// Resolve asks the LLM for an intent answering question over slice.
//
// A reply that is not JSON may be repaired at most maxMalformed times and
// fails with KindIntentMalformed after that. A reply that breaks the contract
// or names identifiers outside the slice is repaired with the violation in
// the prompt and fails with KindIntentUnrepairable once maxRepairs repairs
// are spent. Given a deterministic client the outcome is deterministic.
func (r *Resolver) Resolve(ctx context.Context, question string, slice *models.RankedSlice) (*models.Intent, error) {
	if slice == nil || len(slice.Tables) == 0 {
		return nil, apperrors.New(apperrors.KindEmptySchema, "no tables available to answer the question")
	}

	prompt := prompts.BuildIntentPrompt(question, slice)
	repairs, malformed := 0, 0

	for attempt := 1; ; attempt++ {
		reply, err := r.complete(ctx, prompt)
		if err != nil {
			return nil, err
		}

		in, err := Decode(reply)
		if err == nil {
			err = Bind(in, slice)
		}
		if err == nil {
			r.logger.Debug("Intent resolved",
				zap.Int("attempts", attempt),
				zap.Int("repairs", repairs))
			return in, nil
		}

		kind := repairKind(err)
		r.logger.Info("LLM reply rejected",
			zap.Int("attempt", attempt),
			zap.String("problem", kind),
			zap.String("reply_preview", logging.SanitizeLLMText(reply)),
			zap.Error(err))

		if kind == repairMalformed {
			malformed++
			if malformed > r.maxMalformed || repairs >= r.maxRepairs {
				return nil, apperrors.Wrap(apperrors.KindIntentMalformed,
					"the language model did not return a JSON object", err)
			}
		} else if repairs >= r.maxRepairs {
			return nil, apperrors.Wrap(apperrors.KindIntentUnrepairable,
				"the language model could not produce a valid query intent", err)
		}

		repairs++
		metrics.IncrementRepair(kind)
		prompt = prompts.BuildRepairPrompt(question, slice, reply, problem(err))
	}
}

func (r *Resolver) complete(ctx context.Context, prompt string) (string, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result, err := r.client.GenerateResponse(callCtx, prompt, prompts.IntentSystemMessage, r.temperature, false)
	if err == nil {
		return result.Content, nil
	}
	if ctx.Err() != nil {
		return "", apperrors.Wrap(apperrors.KindCanceled, "request canceled", ctx.Err())
	}
	classified := llm.ClassifyError(err)
	r.logger.Warn("LLM call failed",
		zap.String("error_type", string(classified.Type)),
		zap.Bool("retryable", classified.Retryable),
		zap.Error(err))
	return "", apperrors.Wrap(apperrors.KindLLMUnavailable, "the language model is unavailable", err)
}

func repairKind(err error) string {
	var malformed *MalformedError
	var bind *BindError
	switch {
	case errors.As(err, &malformed):
		return repairMalformed
	case errors.As(err, &bind):
		return repairBinding
	}
	return repairContract
}

func problem(err error) string {
	var malformed *MalformedError
	var bind *BindError
	switch {
	case errors.As(err, &malformed):
		return "the reply did not contain a JSON object"
	case errors.As(err, &bind):
		return "unknown or ambiguous identifier " + bind.Error() + "; use only the tables and columns in the schema"
	}
	return err.Error()
}
