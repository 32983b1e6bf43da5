package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValueForInjection(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{name: "plain number string", value: "12345", expected: false},
		{name: "email", value: "user@example.com", expected: false},
		{name: "date", value: "2024-01-15", expected: false},
		{name: "uuid", value: "550e8400-e29b-41d4-a716-446655440000", expected: false},
		{name: "search phrase", value: "laptop computers", expected: false},
		{name: "integer", value: 100, expected: false},
		{name: "boolean", value: true, expected: false},
		{name: "nil", value: nil, expected: false},
		{name: "tautology", value: "' OR '1'='1", expected: true},
		{name: "stacked drop", value: "'; DROP TABLE users--", expected: true},
		{name: "union select", value: "1 UNION SELECT * FROM passwords", expected: true},
		{name: "comment truncation", value: "admin'--", expected: true},
		{name: "numeric tautology", value: "' OR 1=1--", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finding := CheckValueForInjection(3, tt.value)
			if !tt.expected {
				assert.Nil(t, finding)
				return
			}
			require.NotNil(t, finding)
			assert.Equal(t, 3, finding.Position)
			assert.NotEmpty(t, finding.Fingerprint)
		})
	}
}

func TestCheckParameters(t *testing.T) {
	params := []any{
		"Berlin",
		42,
		[]any{"open", "' OR '1'='1"},
		[]string{"a", "b"},
		"'; DROP TABLE users--",
	}

	findings := CheckParameters(params)

	require.Len(t, findings, 2)
	assert.Equal(t, 3, findings[0].Position)
	assert.Equal(t, 5, findings[1].Position)
}

func TestCheckParameters_Clean(t *testing.T) {
	assert.Empty(t, CheckParameters([]any{"shipped", int64(7), nil}))
	assert.Empty(t, CheckParameters(nil))
}
