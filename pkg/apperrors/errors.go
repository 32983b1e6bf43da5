package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure kind. Kinds are stable identifiers used in
// audit logs, metrics labels and API responses.
type Kind string

const (
	KindEmptySchema         Kind = "empty_schema"
	KindIntentMalformed     Kind = "intent_malformed"
	KindIntentUnrepairable  Kind = "intent_unrepairable"
	KindLLMUnavailable      Kind = "llm_unavailable"
	KindUnsupported         Kind = "unsupported_construct"
	KindNotReadOnly         Kind = "not_read_only"
	KindDisallowedFunction  Kind = "disallowed_function"
	KindUnknownReference    Kind = "unknown_reference"
	KindGuardrailRejected   Kind = "guardrail_rejected"
	KindTimeout             Kind = "execution_timeout"
	KindConnectionFailure   Kind = "connection_failure"
	KindDatabaseConstraint  Kind = "database_constraint"
	KindCanceled            Kind = "canceled"
	KindSnapshotUnavailable Kind = "snapshot_unavailable"
	KindInvalidRequest      Kind = "invalid_request"
	KindInternal            Kind = "internal"
)

// Stage names the pipeline step at which a request stopped.
type Stage string

const (
	StageRequest   Stage = "request"
	StageSnapshot  Stage = "snapshot"
	StageRank      Stage = "rank"
	StageResolve   Stage = "resolve"
	StageGenerate  Stage = "generate"
	StageValidate  Stage = "validate"
	StageGuardrail Stage = "guardrail"
	StageExecute   Stage = "execute"
)

// Guardrail rejection reasons.
const (
	ReasonCost           = "cost"
	ReasonRows           = "rows"
	ReasonSecurityPolicy = "security_policy"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrEmptySchema         = &Error{Kind: KindEmptySchema}
	ErrIntentMalformed     = &Error{Kind: KindIntentMalformed}
	ErrIntentUnrepairable  = &Error{Kind: KindIntentUnrepairable}
	ErrLLMUnavailable      = &Error{Kind: KindLLMUnavailable}
	ErrUnsupported         = &Error{Kind: KindUnsupported}
	ErrNotReadOnly         = &Error{Kind: KindNotReadOnly}
	ErrDisallowedFunction  = &Error{Kind: KindDisallowedFunction}
	ErrUnknownReference    = &Error{Kind: KindUnknownReference}
	ErrGuardrailRejected   = &Error{Kind: KindGuardrailRejected}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrConnectionFailure   = &Error{Kind: KindConnectionFailure}
	ErrDatabaseConstraint  = &Error{Kind: KindDatabaseConstraint}
	ErrCanceled            = &Error{Kind: KindCanceled}
	ErrSnapshotUnavailable = &Error{Kind: KindSnapshotUnavailable}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

// Error is the typed outcome returned by every pipeline component.
// Summary is safe to show to callers; Cause may carry driver or LLM detail
// and is only used for logs.
type Error struct {
	Kind    Kind
	Reason  string
	Summary string
	Cause   error
}

// New creates an Error of the given kind.
func New(kind Kind, summary string) *Error {
	return &Error{Kind: kind, Summary: summary}
}

// Wrap creates an Error of the given kind that keeps cause for logging.
func Wrap(kind Kind, summary string, cause error) *Error {
	return &Error{Kind: kind, Summary: summary, Cause: cause}
}

// Rejected creates a guardrail rejection with the given reason.
func Rejected(reason, summary string) *Error {
	return &Error{Kind: KindGuardrailRejected, Reason: reason, Summary: summary}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "(" + e.Reason + ")"
	}
	if e.Summary != "" {
		msg += ": " + e.Summary
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can test against the package sentinels.
// A sentinel with a Reason only matches errors with the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf returns the Kind carried by err, or KindInternal when err is not a
// typed pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PipelineError is the only error type that crosses the pipeline boundary.
// It exposes the stage, kind and a safe summary and nothing else.
type PipelineError struct {
	RequestID string `json:"request_id,omitempty"`
	Stage     Stage  `json:"stage"`
	Kind      Kind   `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	Summary   string `json:"message"`

	cause error
}

// AtStage converts err into a PipelineError tagged with stage. Untyped errors
// become KindInternal with a generic summary so their text never leaks.
func AtStage(stage Stage, requestID string, err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}

	out := &PipelineError{RequestID: requestID, Stage: stage, cause: err}
	var e *Error
	if errors.As(err, &e) {
		out.Kind = e.Kind
		out.Reason = e.Reason
		out.Summary = e.Summary
	} else {
		out.Kind = KindInternal
		out.Summary = "internal error"
	}
	if out.Summary == "" {
		out.Summary = string(out.Kind)
	}
	return out
}

func (e *PipelineError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s(%s): %s", e.Stage, e.Kind, e.Reason, e.Summary)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Summary)
}

func (e *PipelineError) Unwrap() error {
	return e.cause
}
