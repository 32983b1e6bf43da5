package testhelpers

import (
	"time"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// FixedTime is the extraction time stamped on test snapshots.
var FixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ShopTables returns the catalog used by unit tests across packages:
// customers, orders, order_items, products in public and invoices in sales.
func ShopTables() []models.SchemaTable {
	return []models.SchemaTable{
		{
			SchemaName:  "public",
			TableName:   "orders",
			Description: "Customer orders",
			RowEstimate: 50000,
			PrimaryKey:  []string{"id"},
			ForeignKeys: []models.ForeignKey{{
				Name:       "orders_customer_id_fkey",
				Columns:    []string{"customer_id"},
				RefSchema:  "public",
				RefTable:   "customers",
				RefColumns: []string{"id"},
			}},
			Columns: []models.SchemaColumn{
				{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
				{ColumnName: "customer_id", DataType: "integer", OrdinalPosition: 2},
				{ColumnName: "status", DataType: "text", OrdinalPosition: 3},
				{ColumnName: "total", DataType: "numeric", OrdinalPosition: 4},
				{ColumnName: "created_at", DataType: "timestamptz", OrdinalPosition: 5},
			},
		},
		{
			SchemaName:  "public",
			TableName:   "customers",
			Description: "People who buy things",
			RowEstimate: 2000,
			PrimaryKey:  []string{"id"},
			Columns: []models.SchemaColumn{
				{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
				{ColumnName: "name", DataType: "text", OrdinalPosition: 2},
				{ColumnName: "city", DataType: "text", IsNullable: true, OrdinalPosition: 3},
			},
		},
		{
			SchemaName:  "public",
			TableName:   "order_items",
			RowEstimate: 120000,
			PrimaryKey:  []string{"id"},
			ForeignKeys: []models.ForeignKey{
				{
					Name:       "order_items_order_id_fkey",
					Columns:    []string{"order_id"},
					RefSchema:  "public",
					RefTable:   "orders",
					RefColumns: []string{"id"},
				},
				{
					Name:       "order_items_product_id_fkey",
					Columns:    []string{"product_id"},
					RefSchema:  "public",
					RefTable:   "products",
					RefColumns: []string{"id"},
				},
			},
			Columns: []models.SchemaColumn{
				{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
				{ColumnName: "order_id", DataType: "integer", OrdinalPosition: 2},
				{ColumnName: "product_id", DataType: "integer", OrdinalPosition: 3},
				{ColumnName: "quantity", DataType: "integer", OrdinalPosition: 4},
			},
		},
		{
			SchemaName:  "public",
			TableName:   "products",
			Description: "Catalog of products for sale",
			RowEstimate: 300,
			PrimaryKey:  []string{"id"},
			Columns: []models.SchemaColumn{
				{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
				{ColumnName: "title", DataType: "text", OrdinalPosition: 2},
				{ColumnName: "price", DataType: "numeric", OrdinalPosition: 3},
			},
		},
		{
			SchemaName:  "sales",
			TableName:   "invoices",
			RowEstimate: 8000,
			RowSecurity: true,
			PrimaryKey:  []string{"id"},
			Policies: []models.RowSecurityPolicy{{
				Name:            "tenant_isolation",
				Command:         "SELECT",
				Using:           "tenant_id = current_setting('app.tenant_id')",
				RequiredMarkers: []string{"tenant_id"},
			}},
			Columns: []models.SchemaColumn{
				{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
				{ColumnName: "amount", DataType: "numeric", OrdinalPosition: 2},
				{ColumnName: "tenant_id", DataType: "text", OrdinalPosition: 3},
			},
		},
	}
}

// ShopSnapshot wraps ShopTables in a versioned snapshot.
func ShopSnapshot() *models.SchemaSnapshot {
	return models.NewSchemaSnapshot(ShopTables(), FixedTime)
}

// ShopSlice returns every table of ShopTables with all columns, in catalog
// order, as a ranked slice.
func ShopSlice() *models.RankedSlice {
	snapshot := ShopSnapshot()
	slice := &models.RankedSlice{SnapshotVersion: snapshot.Version, Budget: 1 << 16}
	for _, t := range snapshot.Tables {
		rt := models.RankedTable{
			SchemaName:  t.SchemaName,
			TableName:   t.TableName,
			Description: t.Description,
			RowEstimate: t.RowEstimate,
			RowSecurity: t.RowSecurity,
			Policies:    t.Policies,
			PrimaryKey:  t.PrimaryKey,
			ForeignKeys: t.ForeignKeys,
		}
		for _, c := range t.Columns {
			rt.Columns = append(rt.Columns, models.RankedColumn{
				ColumnName:  c.ColumnName,
				DataType:    c.DataType,
				IsNullable:  c.IsNullable,
				Description: c.Description,
			})
		}
		slice.Tables = append(slice.Tables, rt)
	}
	return slice
}
