// Package handlers implements the HTTP API in front of the query pipeline.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// PipelineErrorBody is the error envelope of pipeline endpoints. Only the
// stage, kind, reason and safe summary are exposed.
type PipelineErrorBody struct {
	Error *apperrors.PipelineError `json:"error"`
}

// WritePipelineError writes err with the status its kind maps to. Errors that
// are not pipeline errors are reported as internal.
func WritePipelineError(w http.ResponseWriter, err error) error {
	var perr *apperrors.PipelineError
	if !errors.As(err, &perr) {
		perr = apperrors.AtStage(apperrors.StageRequest, "", err)
	}
	return WriteJSON(w, StatusForError(perr), PipelineErrorBody{Error: perr})
}

// StatusForError maps a pipeline failure to an HTTP status.
func StatusForError(perr *apperrors.PipelineError) int {
	switch perr.Kind {
	case apperrors.KindInvalidRequest:
		return http.StatusBadRequest
	case apperrors.KindGuardrailRejected:
		if perr.Reason == apperrors.ReasonSecurityPolicy {
			return http.StatusForbidden
		}
		return http.StatusUnprocessableEntity
	case apperrors.KindEmptySchema,
		apperrors.KindIntentMalformed,
		apperrors.KindIntentUnrepairable,
		apperrors.KindUnsupported,
		apperrors.KindNotReadOnly,
		apperrors.KindDisallowedFunction,
		apperrors.KindUnknownReference,
		apperrors.KindDatabaseConstraint:
		return http.StatusUnprocessableEntity
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindLLMUnavailable,
		apperrors.KindConnectionFailure,
		apperrors.KindSnapshotUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
