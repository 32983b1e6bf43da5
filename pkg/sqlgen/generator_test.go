package sqlgen

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/intent"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	return NewGenerator(config.GeneratorConfig{DefaultLimit: 100, MaxLimit: 1000}, zaptest.NewLogger(t))
}

func intPtr(n int) *int { return &n }

func bound(t *testing.T, in *models.Intent) *models.Intent {
	t.Helper()
	require.NoError(t, intent.Bind(in, testhelpers.ShopSlice()))
	return in
}

func render(raw *models.RawSQL) []byte {
	var b strings.Builder
	b.WriteString(raw.SQL)
	b.WriteByte('\n')
	for i, p := range raw.Params {
		fmt.Fprintf(&b, "$%d %T %v\n", i+1, p, p)
	}
	return []byte(b.String())
}

var goldenCases = []struct {
	name   string
	intent models.Intent
}{
	{
		name: "simple_filter",
		intent: models.Intent{
			Target:  []string{"id", "status"},
			Filters: []models.Filter{{Column: "status", Operator: "=", Value: "open"}},
		},
	},
	{
		name: "customer_totals",
		intent: models.Intent{
			Target:     []string{"customers.name"},
			Filters:    []models.Filter{},
			Aggregates: []models.Aggregate{{Func: "sum", Column: "total"}},
			OrderBy:    []models.OrderBy{{Column: "sum_total", Direction: "desc"}},
			Limit:      intPtr(10),
		},
	},
	{
		name: "bridge_join",
		intent: models.Intent{
			Target:     []string{"products.title"},
			Filters:    []models.Filter{{Column: "customers.city", Operator: "=", Value: "Berlin"}},
			Aggregates: []models.Aggregate{{Func: "sum", Column: "order_items.quantity"}},
			OrderBy:    []models.OrderBy{{Column: "sum_quantity", Direction: "desc"}},
			Limit:      intPtr(5),
		},
	},
	{
		name: "in_between",
		intent: models.Intent{
			Target: []string{"id"},
			Filters: []models.Filter{
				{Column: "status", Operator: "in", Value: []any{"open", "paid"}},
				{Column: "total", Operator: "between", Value: []any{json.Number("10"), json.Number("99.50")}},
			},
			OrderBy: []models.OrderBy{{Column: "created_at", Direction: "asc"}},
			Limit:   intPtr(5000),
		},
	},
	{
		name: "count_invoices",
		intent: models.Intent{
			Target:     []string{},
			Filters:    []models.Filter{{Column: "sales.invoices.amount", Operator: ">", Value: json.Number("100")}},
			Aggregates: []models.Aggregate{{Func: "count", Column: "*"}},
		},
	},
	{
		name: "not_equal_null",
		intent: models.Intent{
			Target: []string{"id"},
			Filters: []models.Filter{
				{Column: "status", Operator: "!=", Value: "void"},
				{Column: "created_at", Operator: "is null"},
			},
		},
	},
}

func TestGenerate_Golden(t *testing.T) {
	g := newTestGenerator(t)
	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tc := range goldenCases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.intent
			raw, err := g.Generate(bound(t, &in))
			require.NoError(t, err)
			gold.Assert(t, tc.name, render(raw))
		})
	}
}

// Every generated statement must pass the validator against the slice it was
// bound to.
func TestGenerate_OutputValidates(t *testing.T) {
	g := newTestGenerator(t)
	v := sql.NewValidator(config.ValidatorConfig{LimitCeiling: 1000}, zaptest.NewLogger(t))
	slice := testhelpers.ShopSlice()

	for _, tc := range goldenCases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.intent
			raw, err := g.Generate(bound(t, &in))
			require.NoError(t, err)

			vq, err := v.Validate(raw, slice)
			require.NoError(t, err, raw.SQL)
			assert.False(t, vq.LimitChanged(), "generator limit exceeds the ceiling")
			assert.Len(t, vq.Params(), len(raw.Params))
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g := newTestGenerator(t)
	for _, tc := range goldenCases {
		a, b := tc.intent, tc.intent
		first, err := g.Generate(bound(t, &a))
		require.NoError(t, err)
		second, err := g.Generate(bound(t, &b))
		require.NoError(t, err)
		assert.Equal(t, first.SQL, second.SQL)
		assert.Equal(t, first.Params, second.Params)
	}
}

func TestGenerate_Limit(t *testing.T) {
	g := newTestGenerator(t)
	tests := []struct {
		name  string
		limit *int
		want  string
	}{
		{"absent uses default", nil, "LIMIT 100"},
		{"zero uses default", intPtr(0), "LIMIT 100"},
		{"negative uses default", intPtr(-3), "LIMIT 100"},
		{"within range", intPtr(25), "LIMIT 25"},
		{"clamped to max", intPtr(1001), "LIMIT 1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := bound(t, &models.Intent{Target: []string{"id"}, Filters: []models.Filter{}, Limit: tt.limit})
			raw, err := g.Generate(in)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(raw.SQL, tt.want), raw.SQL)
		})
	}
}

func TestGenerate_ValuesAreNeverInlined(t *testing.T) {
	g := newTestGenerator(t)
	hostile := "x'; DROP TABLE orders; --"
	in := bound(t, &models.Intent{
		Target:  []string{"id"},
		Filters: []models.Filter{{Column: "status", Operator: "=", Value: hostile}},
	})

	raw, err := g.Generate(in)
	require.NoError(t, err)
	assert.NotContains(t, raw.SQL, "DROP")
	assert.Equal(t, []any{hostile}, raw.Params)
}

func TestGenerate_QuotesIdentifiers(t *testing.T) {
	g := newTestGenerator(t)
	in := &models.Intent{
		Target:  []string{"Order"},
		Filters: []models.Filter{},
		Source: &models.SourcePlan{
			Base: models.TableRef{Schema: "public", Name: "user"},
			Refs: map[string]models.ColumnRef{
				"Order": {Table: models.TableRef{Schema: "public", Name: "user"}, Column: "Order"},
			},
		},
	}

	raw, err := g.Generate(in)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Order" FROM "user" LIMIT 100`, raw.SQL)
}

func TestGenerate_Unsupported(t *testing.T) {
	g := newTestGenerator(t)
	tests := []struct {
		name   string
		intent models.Intent
	}{
		{"unknown aggregate", models.Intent{
			Target:     []string{},
			Aggregates: []models.Aggregate{{Func: "median", Column: "total"}},
		}},
		{"sum of star", models.Intent{
			Target:     []string{},
			Aggregates: []models.Aggregate{{Func: "sum", Column: "*"}},
		}},
		{"unknown operator", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "status", Operator: "~", Value: "a"}},
		}},
		{"in without list", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "status", Operator: "in", Value: "open"}},
		}},
		{"empty in list", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "status", Operator: "in", Value: []any{}}},
		}},
		{"null inside list", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "status", Operator: "not in", Value: []any{"a", nil}}},
		}},
		{"between with one value", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "total", Operator: "between", Value: []any{json.Number("1")}}},
		}},
		{"object value", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "status", Operator: "=", Value: map[string]any{"a": 1}}},
		}},
		{"comparison with null", models.Intent{
			Target:  []string{"id"},
			Filters: []models.Filter{{Column: "status", Operator: "=", Value: nil}},
		}},
		{"bad direction", models.Intent{
			Target:  []string{"id"},
			OrderBy: []models.OrderBy{{Column: "id", Direction: "sideways"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.intent
			_, err := g.Generate(bound(t, &in))
			require.Error(t, err)
			assert.Equal(t, apperrors.KindUnsupported, apperrors.KindOf(err))
		})
	}
}

func TestGenerate_RequiresBinding(t *testing.T) {
	g := newTestGenerator(t)
	_, err := g.Generate(&models.Intent{Target: []string{"id"}})
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)
}
