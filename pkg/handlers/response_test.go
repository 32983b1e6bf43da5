package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, ErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad body"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"invalid_request","message":"bad body"}`, w.Body.String())
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusOK, map[string]int{"n": 1}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"n":1}`, w.Body.String())
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		kind   apperrors.Kind
		reason string
		want   int
	}{
		{apperrors.KindInvalidRequest, "", http.StatusBadRequest},
		{apperrors.KindIntentUnrepairable, "", http.StatusUnprocessableEntity},
		{apperrors.KindUnknownReference, "", http.StatusUnprocessableEntity},
		{apperrors.KindGuardrailRejected, apperrors.ReasonRows, http.StatusUnprocessableEntity},
		{apperrors.KindGuardrailRejected, apperrors.ReasonSecurityPolicy, http.StatusForbidden},
		{apperrors.KindTimeout, "", http.StatusGatewayTimeout},
		{apperrors.KindLLMUnavailable, "", http.StatusServiceUnavailable},
		{apperrors.KindSnapshotUnavailable, "", http.StatusServiceUnavailable},
		{apperrors.KindCanceled, "", http.StatusRequestTimeout},
		{apperrors.KindInternal, "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+tt.reason, func(t *testing.T) {
			perr := &apperrors.PipelineError{Kind: tt.kind, Reason: tt.reason}
			assert.Equal(t, tt.want, StatusForError(perr))
		})
	}
}

func TestWritePipelineError(t *testing.T) {
	t.Run("pipeline error", func(t *testing.T) {
		w := httptest.NewRecorder()
		perr := apperrors.AtStage(apperrors.StageGuardrail, "req-1", apperrors.Rejected(apperrors.ReasonRows, "estimated rows exceed the ceiling"))
		require.NoError(t, WritePipelineError(w, perr))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"error":{"request_id":"req-1","stage":"guardrail","kind":"guardrail_rejected","reason":"rows","message":"estimated rows exceed the ceiling"}}`, w.Body.String())
	})

	t.Run("untyped error does not leak", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WritePipelineError(w, errors.New("dial tcp 10.0.0.5:5432: refused")))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "internal", body["error"]["kind"])
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
	})
}
