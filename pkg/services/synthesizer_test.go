package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

func sampleResult() *models.ExecutionResult {
	return &models.ExecutionResult{
		Columns:  []models.ResultColumn{{Name: "status", Type: "TEXT"}, {Name: "count", Type: "INT8"}},
		Rows:     [][]any{{"open", int64(4)}, {"paid", int64(9)}},
		RowCount: 2,
	}
}

func TestSynthesizer_Summarize(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    *Narrative
		wantErr bool
	}{
		{
			name:  "plain json",
			reply: `{"response": "Most orders are paid.", "highlights": ["9 paid", "4 open"]}`,
			want:  &Narrative{Response: "Most orders are paid.", Highlights: []string{"9 paid", "4 open"}},
		},
		{
			name:  "fenced without highlights",
			reply: "```json\n{\"response\": \"  Four orders are open. \"}\n```",
			want:  &Narrative{Response: "Four orders are open.", Highlights: []string{}},
		},
		{name: "empty response", reply: `{"response": "", "highlights": []}`, wantErr: true},
		{name: "prose", reply: "I cannot summarize this.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockLLMClient(tt.reply)
			s := NewSynthesizer(mock, 0.3, zaptest.NewLogger(t))

			got, err := s.Summarize(context.Background(), "how many orders per status?", sampleResult())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Len(t, mock.Prompts, 1)
			assert.Contains(t, mock.Prompts[0], "how many orders per status?")
		})
	}
}

func TestSynthesizer_NilResult(t *testing.T) {
	mock := llm.NewMockLLMClient()
	_, err := NewSynthesizer(mock, 0, zaptest.NewLogger(t)).Summarize(context.Background(), "q", nil)
	assert.Error(t, err)
	assert.Zero(t, mock.Calls())
}
