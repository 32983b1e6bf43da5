package ranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

// fixedScorer returns preset scores by table key.
type fixedScorer struct {
	scores  map[string]float64
	columns map[string]map[string]float64
}

func (f fixedScorer) Score(ctx context.Context, question string, snapshot *models.SchemaSnapshot) ([]TableScore, error) {
	out := make([]TableScore, len(snapshot.Tables))
	for i := range snapshot.Tables {
		key := snapshot.Tables[i].Key()
		out[i] = TableScore{Key: key, Score: f.scores[key], Columns: f.columns[key]}
	}
	return out, nil
}

func newTestRanker(t *testing.T, scorer Scorer, topN int) *Ranker {
	t.Helper()
	return New(scorer, config.RankerConfig{TopN: topN, BudgetChars: 1 << 16}, zaptest.NewLogger(t))
}

func tableKeys(slice *models.RankedSlice) []string {
	keys := make([]string, len(slice.Tables))
	for i := range slice.Tables {
		keys[i] = slice.Tables[i].Key()
	}
	return keys
}

func TestRank_LexicalPicksRelevantTable(t *testing.T) {
	r := newTestRanker(t, NewLexicalScorer(), 3)
	snapshot := testhelpers.ShopSnapshot()

	slice, err := r.Rank(context.Background(), "What is the price of each product?", snapshot, 0)
	require.NoError(t, err)

	require.NotEmpty(t, slice.Tables)
	assert.Equal(t, "public.products", slice.Tables[0].Key())
	assert.False(t, slice.Fallback)
	assert.Equal(t, snapshot.Version, slice.SnapshotVersion)
	assert.Equal(t, 1<<16, slice.Budget)
	assert.Greater(t, slice.Tables[0].Score, 0.0)
}

func TestRank_FallbackToLargestTables(t *testing.T) {
	r := newTestRanker(t, NewLexicalScorer(), 2)

	for _, q := range []string{"zzz qqq", ""} {
		slice, err := r.Rank(context.Background(), q, testhelpers.ShopSnapshot(), 0)
		require.NoError(t, err)
		assert.True(t, slice.Fallback)
		assert.Equal(t, []string{"public.order_items", "public.orders"}, tableKeys(slice))
	}
}

func TestRank_ZeroScoreTablesOnlyWhenConnected(t *testing.T) {
	scorer := fixedScorer{scores: map[string]float64{
		"public.customers": 0.9,
		"public.products":  0.5,
	}}
	r := newTestRanker(t, scorer, 0)

	slice, err := r.Rank(context.Background(), "q", testhelpers.ShopSnapshot(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"public.customers",
		"public.products",
		"public.order_items",
		"public.orders",
	}, tableKeys(slice))
}

func TestRank_TiesPreferConnectedTables(t *testing.T) {
	scorer := fixedScorer{scores: map[string]float64{
		"public.order_items": 0.9,
		"public.customers":   0.5,
		"public.products":    0.5,
	}}
	r := newTestRanker(t, scorer, 2)

	slice, err := r.Rank(context.Background(), "q", testhelpers.ShopSnapshot(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"public.order_items", "public.products"}, tableKeys(slice))
}

func TestRank_TiesWithoutConnectionUseName(t *testing.T) {
	scorer := fixedScorer{scores: map[string]float64{
		"sales.invoices":   0.9,
		"public.products":  0.5,
		"public.customers": 0.5,
	}}
	r := newTestRanker(t, scorer, 2)

	slice, err := r.Rank(context.Background(), "q", testhelpers.ShopSnapshot(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.invoices", "public.customers"}, tableKeys(slice))
}

func TestRank_TrimsColumnsToBudget(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	orders, _ := snapshot.Table("", "orders")
	scorer := fixedScorer{
		scores:  map[string]float64{"public.orders": 1},
		columns: map[string]map[string]float64{"public.orders": {"status": 1}},
	}

	want := rankedTable(candidate{table: orders, score: TableScore{Score: 1, Columns: map[string]float64{"status": 1}}},
		func(c models.SchemaColumn) bool {
			return c.ColumnName == "id" || c.ColumnName == "customer_id" || c.ColumnName == "status"
		})

	r := newTestRanker(t, scorer, 1)
	slice, err := r.Rank(context.Background(), "q", snapshot, want.Size())
	require.NoError(t, err)

	require.Len(t, slice.Tables, 1)
	assert.Equal(t, want, slice.Tables[0])
	assert.LessOrEqual(t, slice.Size(), want.Size())
	assert.Equal(t, 1.0, slice.Tables[0].Columns[2].Score)
}

func TestRank_BudgetSweep(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()

	all := fixedScorer{scores: map[string]float64{}}
	for i := range snapshot.Tables {
		all.scores[snapshot.Tables[i].Key()] = 1
	}
	whole, err := New(all, config.RankerConfig{}, zap.NewNop()).Rank(context.Background(), "q", snapshot, 1<<20)
	require.NoError(t, err)
	require.Len(t, whole.Tables, len(snapshot.Tables))
	full := whole.Size()

	scorers := map[string]Scorer{
		"lexical":  NewLexicalScorer(),
		"uniform":  all,
		"fallback": fixedScorer{},
	}
	for name, scorer := range scorers {
		for _, topN := range []int{0, 1, 2, 3, len(snapshot.Tables)} {
			r := New(scorer, config.RankerConfig{TopN: topN}, zap.NewNop())
			for budget := 1; budget <= full; budget++ {
				slice, err := r.Rank(context.Background(), "order totals by customer and product", snapshot, budget)
				if err != nil {
					require.ErrorIs(t, err, apperrors.ErrEmptySchema, "%s topN=%d budget=%d", name, topN, budget)
					continue
				}
				require.LessOrEqual(t, slice.Size(), budget, "%s topN=%d budget=%d", name, topN, budget)
				if topN > 0 {
					require.LessOrEqual(t, len(slice.Tables), topN, "%s topN=%d budget=%d", name, topN, budget)
				}
				requireSliceMatchesSnapshot(t, snapshot, slice)
			}
		}
	}
}

// requireSliceMatchesSnapshot checks that every kept table and column comes
// from the snapshot, no table repeats, and trimmed tables keep their keys.
func requireSliceMatchesSnapshot(t *testing.T, snapshot *models.SchemaSnapshot, slice *models.RankedSlice) {
	t.Helper()

	seen := make(map[string]bool)
	for i := range slice.Tables {
		rt := &slice.Tables[i]
		require.False(t, seen[rt.Key()], "table %s repeated", rt.Key())
		seen[rt.Key()] = true

		st, ok := snapshot.TableByKey(rt.Key())
		require.True(t, ok, "table %s not in snapshot", rt.Key())
		require.NotEmpty(t, rt.Columns, "table %s kept without columns", rt.Key())

		kept := make(map[string]bool)
		for _, col := range rt.Columns {
			_, ok := st.Column(col.ColumnName)
			require.True(t, ok, "column %s.%s not in snapshot", rt.Key(), col.ColumnName)
			kept[col.ColumnName] = true
		}
		for _, col := range st.Columns {
			if isKeyColumn(st, col.ColumnName) {
				assert.True(t, kept[col.ColumnName], "key column %s.%s trimmed", rt.Key(), col.ColumnName)
			}
		}
	}
}

func TestRank_NothingFits(t *testing.T) {
	r := newTestRanker(t, NewLexicalScorer(), 0)
	_, err := r.Rank(context.Background(), "orders", testhelpers.ShopSnapshot(), 10)
	assert.ErrorIs(t, err, apperrors.ErrEmptySchema)
}

func TestRank_EmptySnapshot(t *testing.T) {
	r := newTestRanker(t, NewLexicalScorer(), 0)

	_, err := r.Rank(context.Background(), "orders", models.NewSchemaSnapshot(nil, testhelpers.FixedTime), 0)
	assert.ErrorIs(t, err, apperrors.ErrEmptySchema)

	_, err = r.Rank(context.Background(), "orders", nil, 0)
	assert.ErrorIs(t, err, apperrors.ErrEmptySchema)
}

func TestRank_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRanker(t, NewLexicalScorer(), 0)

	_, err := r.Rank(ctx, "orders", testhelpers.ShopSnapshot(), 0)
	assert.ErrorIs(t, err, apperrors.ErrCanceled)
}

func TestNewScorer(t *testing.T) {
	logger := zaptest.NewLogger(t)

	s, err := NewScorer(config.RankerConfig{Strategy: StrategyLexical}, nil, "", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &LexicalScorer{}, s)

	s, err = NewScorer(config.RankerConfig{Strategy: StrategyEmbedding}, nil, "m", NewIndexStore(), logger)
	require.NoError(t, err)
	assert.IsType(t, &EmbeddingScorer{}, s)

	_, err = NewScorer(config.RankerConfig{Strategy: "magic"}, nil, "", nil, logger)
	assert.Error(t, err)
}
