package ranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"customer", "id", "order"}, tokenize("Customer_IDs of the Orders"))
	assert.Empty(t, tokenize("what is the a"))
}

func TestLexicalScorer_ScoresInSnapshotOrder(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	s := NewLexicalScorer()

	scores, err := s.Score(context.Background(), "customers by city", snapshot)
	require.NoError(t, err)
	require.Len(t, scores, len(snapshot.Tables))

	for i, sc := range scores {
		assert.Equal(t, snapshot.Tables[i].Key(), sc.Key)
	}
	best := scores[0]
	for _, sc := range scores[1:] {
		if sc.Score > best.Score {
			best = sc
		}
	}
	assert.Equal(t, "public.customers", best.Key)
	assert.Equal(t, 1.0, scores[1].Columns["city"])
}

func TestLexicalScorer_ReusesModelPerVersion(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	s := NewLexicalScorer()

	_, err := s.Score(context.Background(), "orders", snapshot)
	require.NoError(t, err)
	first := s.model.Load()

	_, err = s.Score(context.Background(), "products", snapshot)
	require.NoError(t, err)
	assert.Same(t, first, s.model.Load())

	tables := testhelpers.ShopTables()[:2]
	other := testhelpers.ShopSnapshot()
	other.Tables = tables
	other.Version = "other"
	scores, err := s.Score(context.Background(), "orders", other)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.NotSame(t, first, s.model.Load())
}
