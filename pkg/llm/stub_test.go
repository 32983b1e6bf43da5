package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClient_RulesInOrder(t *testing.T) {
	stub := NewStubClient(StubScript{
		Rules: []StubRule{
			{Contains: "recent orders", Replies: []string{"first", "second"}},
			{Contains: "orders", Replies: []string{"generic"}},
		},
		Default: "fallback",
	})
	ctx := context.Background()

	replies := make([]string, 0, 4)
	for range 3 {
		r, err := stub.GenerateResponse(ctx, "show recent orders", "", 0, false)
		require.NoError(t, err)
		replies = append(replies, r.Content)
	}
	assert.Equal(t, []string{"first", "second", "second"}, replies)

	r, err := stub.GenerateResponse(ctx, "count orders", "", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "generic", r.Content)

	r, err = stub.GenerateResponse(ctx, "hello", "", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "fallback", r.Content)
	assert.Equal(t, 5, stub.Calls())
}

func TestStubClient_NoReply(t *testing.T) {
	stub := NewStubClient(StubScript{})
	_, err := stub.GenerateResponse(context.Background(), "anything", "", 0, false)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestStubClient_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := NewStubClient(StubScript{Default: "x"})
	_, err := stub.GenerateResponse(ctx, "q", "", 0, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadStubScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	content := "rules:\n  - contains: \"top customers\"\n    replies:\n      - '{\"target\": [\"name\"], \"filters\": []}'\ndefault: 'nope'\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	stub, err := LoadStubScript(path)
	require.NoError(t, err)
	r, err := stub.GenerateResponse(context.Background(), "who are the top customers", "", 0, false)
	require.NoError(t, err)
	assert.Equal(t, `{"target": ["name"], "filters": []}`, r.Content)

	_, err = LoadStubScript(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHashEmbedding(t *testing.T) {
	a := HashEmbedding("customer orders total")
	b := HashEmbedding("orders total by customer")
	c := HashEmbedding("zebra habitat")

	require.Len(t, a, StubDimensions)
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)
	assert.Greater(t, dot(a, b), dot(a, c))
	assert.Equal(t, make([]float32, StubDimensions), HashEmbedding("  ,, "))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
