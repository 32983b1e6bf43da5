// Package audit provides pipeline and security audit logging for SIEM consumption.
// Every event is logged as structured JSON under a dedicated logger name so it
// can be filtered and shipped separately from application logs.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/auth"
)

// EventType categorizes audit events for filtering and alerting.
type EventType string

const (
	// EventPipelineRequest is logged once per answered or rejected question.
	EventPipelineRequest EventType = "pipeline_request"
	// EventSuspiciousParameter is logged when libinjection flags a bound value.
	EventSuspiciousParameter EventType = "suspicious_parameter"
	// EventRowSecurityRejection is logged when a query touches a
	// row-security-sensitive table without the required context markers.
	EventRowSecurityRejection EventType = "row_security_rejection"
)

type requestIDKey struct{}

// WithRequestID attaches the pipeline request id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Event is an auditable event with all relevant context for SIEM ingestion.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	RequestID string    `json:"request_id,omitempty"`
	Principal string    `json:"principal,omitempty"`
	Details   any       `json:"details"`
	Severity  string    `json:"severity"` // info, warning, critical
}

// RequestOutcome summarizes one pipeline run. Stage, Kind and Reason are
// empty on success.
type RequestOutcome struct {
	Stage           string `json:"stage,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Reason          string `json:"reason,omitempty"`
	SnapshotVersion string `json:"snapshot_version,omitempty"`
	ElapsedMS       int64  `json:"elapsed_ms"`
	Limit           int    `json:"limit,omitempty"`
	RowCount        int    `json:"row_count"`
	Truncated       bool   `json:"truncated,omitempty"`
}

// SuspiciousParameterDetails describes a bound value libinjection flagged.
// The value itself is never logged.
type SuspiciousParameterDetails struct {
	Position    int    `json:"position"`
	Fingerprint string `json:"fingerprint"`
	Rejected    bool   `json:"rejected"`
}

// RowSecurityDetails names the sensitive table and the markers the caller lacked.
type RowSecurityDetails struct {
	Table          string   `json:"table"`
	MissingMarkers []string `json:"missing_markers,omitempty"`
}

// Auditor logs audit events.
type Auditor struct {
	logger *zap.Logger
}

// NewAuditor creates an auditor logging under the "pipeline_audit" name.
func NewAuditor(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{logger: logger.Named("pipeline_audit")}
}

func (a *Auditor) event(ctx context.Context, eventType EventType, severity string, details any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: RequestIDFromContext(ctx),
		Principal: auth.GetSecurityContext(ctx).Principal,
		Details:   details,
		Severity:  severity,
	}
}

// LogRequest records the outcome of one pipeline run. Failures are logged at
// WARN, successes at INFO.
func (a *Auditor) LogRequest(ctx context.Context, outcome RequestOutcome) {
	severity := "info"
	if outcome.Kind != "" {
		severity = "warning"
	}
	event := a.event(ctx, EventPipelineRequest, severity, outcome)

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", event.RequestID),
		zap.String("principal", event.Principal),
		zap.String("stage", outcome.Stage),
		zap.String("kind", outcome.Kind),
		zap.String("reason", outcome.Reason),
		zap.String("snapshot_version", outcome.SnapshotVersion),
		zap.Int64("elapsed_ms", outcome.ElapsedMS),
		zap.Int("row_count", outcome.RowCount),
		zap.String("severity", severity),
	}
	if outcome.Kind != "" {
		a.logger.Warn("Pipeline request failed", fields...)
		return
	}
	a.logger.Info("Pipeline request answered", fields...)
}

// LogSuspiciousParameter records a bound value classified as an injection
// payload. Logged at ERROR with "critical" severity for immediate alerting.
func (a *Auditor) LogSuspiciousParameter(ctx context.Context, details SuspiciousParameterDetails) {
	event := a.event(ctx, EventSuspiciousParameter, "critical", details)
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Suspicious query parameter detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", event.RequestID),
		zap.String("principal", event.Principal),
		zap.Int("position", details.Position),
		zap.String("fingerprint", details.Fingerprint),
		zap.Bool("rejected", details.Rejected),
		zap.String("severity", "critical"),
	)
}

// LogRowSecurityRejection records a query rejected because the caller lacked
// the security context a sensitive table requires.
func (a *Auditor) LogRowSecurityRejection(ctx context.Context, details RowSecurityDetails) {
	event := a.event(ctx, EventRowSecurityRejection, "warning", details)
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Row security rejection",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", event.RequestID),
		zap.String("principal", event.Principal),
		zap.String("table", details.Table),
		zap.Strings("missing_markers", details.MissingMarkers),
		zap.String("severity", "warning"),
	)
}
