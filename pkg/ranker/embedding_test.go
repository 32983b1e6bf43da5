package ranker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

func TestBuildEmbeddingIndex(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	mock := llm.NewMockLLMClient()

	idx, err := BuildEmbeddingIndex(context.Background(), snapshot, mock, "embed-small", 2, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, snapshot.Version, idx.SnapshotVersion)
	assert.Equal(t, "embed-small", idx.Model)
	require.Len(t, idx.Vectors, len(snapshot.Tables))
	orders, _ := snapshot.Table("", "orders")
	assert.Equal(t, llm.HashEmbedding(tableDocument(orders)), idx.Vectors["public.orders"])
	assert.Equal(t, len(snapshot.Tables), mock.CreateEmbeddingCalls)
}

func TestBuildEmbeddingIndex_FailsOnAnyTable(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		if strings.Contains(input, "invoices") {
			return nil, errors.New("HTTP 500")
		}
		return llm.HashEmbedding(input), nil
	}

	_, err := BuildEmbeddingIndex(context.Background(), testhelpers.ShopSnapshot(), mock, "m", 4, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales.invoices")
}

func TestIndexStore_SaveAndLoad(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	idx, err := BuildEmbeddingIndex(context.Background(), snapshot, llm.NewMockLLMClient(), "m", 1, zaptest.NewLogger(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, SaveIndex(path, idx))

	store := NewIndexStore()
	assert.Nil(t, store.Load())
	loaded, err := store.LoadFile(path)
	require.NoError(t, err)
	assert.Same(t, loaded, store.Load())
	assert.Equal(t, idx.Vectors, loaded.Vectors)

	_, err = store.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	assert.Same(t, loaded, store.Load())
}

func TestEmbeddingScorer_UsesIndex(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	mock := llm.NewMockLLMClient()
	idx, err := BuildEmbeddingIndex(context.Background(), snapshot, mock, "m", 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	store := NewIndexStore()
	store.Swap(idx)

	scorer := NewEmbeddingScorer(NewEmbeddingService(mock, "m", store), NewLexicalScorer(), zaptest.NewLogger(t))
	r := newTestRanker(t, scorer, 2)

	slice, err := r.Rank(context.Background(), "customers city name", snapshot, 0)
	require.NoError(t, err)
	assert.Equal(t, "public.customers", slice.Tables[0].Key())
	assert.Equal(t, 1, mock.CreateEmbeddingCalls-len(snapshot.Tables))
}

func TestEmbeddingScorer_FallsBackToLexical(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	store := NewIndexStore()
	store.Swap(&EmbeddingIndex{SnapshotVersion: "stale", Vectors: map[string][]float32{"public.orders": {1}}})

	mock := llm.NewMockLLMClient()
	lexical := NewLexicalScorer()
	scorer := NewEmbeddingScorer(NewEmbeddingService(mock, "m", store), lexical, zaptest.NewLogger(t))

	got, err := scorer.Score(context.Background(), "price of products", snapshot)
	require.NoError(t, err)
	want, err := lexical.Score(context.Background(), "price of products", snapshot)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, mock.CreateEmbeddingCalls)
}

func TestColumnOverlapBoost(t *testing.T) {
	assert.Equal(t, 0.0, columnOverlapBoost(nil))
	assert.InDelta(t, 0.2, columnOverlapBoost(map[string]float64{"city": 1, "name": 1, "customer_id": 0.5}), 1e-9)
	many := map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1, "f": 1, "g": 1}
	assert.InDelta(t, 0.5, columnOverlapBoost(many), 1e-9)
}
