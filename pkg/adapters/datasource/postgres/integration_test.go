//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

func newFixtureAdapter(t *testing.T) *Adapter {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	adapter := NewAdapter(testDB.DB.Pool, "shop", zaptest.NewLogger(t))
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func TestIntegration_FetchSnapshot(t *testing.T) {
	adapter := newFixtureAdapter(t)
	ctx := context.Background()
	require.NoError(t, adapter.TestConnection(ctx))

	snapshot, err := adapter.Extractor([]string{"public", "sales"}).FetchSnapshot(ctx)
	require.NoError(t, err)

	orders, ok := snapshot.Table("public", "orders")
	require.True(t, ok)
	assert.Equal(t, "Customer orders", orders.Description)
	assert.True(t, orders.IsPrimaryKey("id"))
	require.Len(t, orders.ForeignKeys, 1)
	assert.Equal(t, "customers", orders.ForeignKeys[0].RefTable)

	invoices, ok := snapshot.Table("sales", "invoices")
	require.True(t, ok)
	assert.True(t, invoices.RowSecurity)
	assert.Equal(t, []string{"tenant_id"}, invoices.RequiredMarkers())
}

func TestIntegration_EstimateAndRun(t *testing.T) {
	adapter := newFixtureAdapter(t)
	ctx := context.Background()

	estimate, err := adapter.Planner().Estimate(ctx, "SELECT id FROM orders WHERE status = $1 LIMIT 5", []any{"shipped"})
	require.NoError(t, err)
	assert.Positive(t, estimate.Cost)
	assert.NotEmpty(t, estimate.NodeType)

	rows, err := adapter.Runner().RunReadOnly(ctx,
		"SELECT id, total FROM orders ORDER BY created_at DESC LIMIT 6", nil, 5*time.Second, 5)
	require.NoError(t, err)
	assert.Len(t, rows.Values, 5)
	assert.True(t, rows.Truncated)
	assert.Equal(t, "id", rows.Columns[0].Name)
}

func TestIntegration_RunReadOnly_RejectsWrites(t *testing.T) {
	adapter := newFixtureAdapter(t)

	_, err := adapter.Runner().RunReadOnly(context.Background(),
		"DELETE FROM order_items", nil, 5*time.Second, 10)
	require.Error(t, err)
}
