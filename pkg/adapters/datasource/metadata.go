package datasource

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// TableMetadata represents a discovered database table.
type TableMetadata struct {
	SchemaName  string
	TableName   string
	Description string
	RowCount    int64
	RowSecurity bool
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	SchemaName      string
	TableName       string
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
	Description     string
}

// ForeignKeyMetadata is one column pair of a foreign key constraint.
// Multi-column constraints produce one row per pair, ordered by Position.
type ForeignKeyMetadata struct {
	ConstraintName string
	SourceSchema   string
	SourceTable    string
	SourceColumn   string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
	Position       int
}

// PolicyMetadata is a row-level security policy from pg_policies.
type PolicyMetadata struct {
	SchemaName string
	TableName  string
	PolicyName string
	Command    string
	Roles      []string
	Using      string
}

// settingPattern finds current_setting('app.tenant_id') style lookups in a
// policy expression. The last dotted segment names the marker.
var settingPattern = regexp.MustCompile(`(?i)current_setting\s*\(\s*'(?:[a-z_][a-z0-9_]*\.)*([a-z_][a-z0-9_]*)'`)

// PolicyMarkers returns the context markers a policy expression reads, in
// order of first use.
func PolicyMarkers(using string) []string {
	var markers []string
	for _, m := range settingPattern.FindAllStringSubmatch(using, -1) {
		name := strings.ToLower(m[1])
		if !slices.Contains(markers, name) {
			markers = append(markers, name)
		}
	}
	return markers
}

// AssembleSnapshot groups catalog rows into a versioned snapshot. Tables keep
// the order given; columns are ordered by ordinal position. Rows that refer
// to tables not in tables are ignored.
func AssembleSnapshot(tables []TableMetadata, columns []ColumnMetadata, fks []ForeignKeyMetadata, policies []PolicyMetadata, extractedAt time.Time) *models.SchemaSnapshot {
	out := make([]models.SchemaTable, len(tables))
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		out[i] = models.SchemaTable{
			SchemaName:  t.SchemaName,
			TableName:   t.TableName,
			Description: t.Description,
			RowEstimate: max(t.RowCount, 0),
			RowSecurity: t.RowSecurity,
		}
		index[models.TableKey(t.SchemaName, t.TableName)] = i
	}

	for _, c := range columns {
		i, ok := index[models.TableKey(c.SchemaName, c.TableName)]
		if !ok {
			continue
		}
		out[i].Columns = append(out[i].Columns, models.SchemaColumn{
			ColumnName:      c.ColumnName,
			DataType:        c.DataType,
			IsNullable:      c.IsNullable,
			Description:     c.Description,
			OrdinalPosition: c.OrdinalPosition,
		})
		if c.IsPrimaryKey {
			out[i].PrimaryKey = append(out[i].PrimaryKey, c.ColumnName)
		}
	}
	for i := range out {
		slices.SortStableFunc(out[i].Columns, func(a, b models.SchemaColumn) int {
			return a.OrdinalPosition - b.OrdinalPosition
		})
	}

	sortedFKs := slices.Clone(fks)
	slices.SortStableFunc(sortedFKs, func(a, b ForeignKeyMetadata) int {
		if c := strings.Compare(a.ConstraintName, b.ConstraintName); c != 0 {
			return c
		}
		return a.Position - b.Position
	})
	for _, fk := range sortedFKs {
		i, ok := index[models.TableKey(fk.SourceSchema, fk.SourceTable)]
		if !ok {
			continue
		}
		t := &out[i]
		n := len(t.ForeignKeys)
		if n == 0 || t.ForeignKeys[n-1].Name != fk.ConstraintName {
			t.ForeignKeys = append(t.ForeignKeys, models.ForeignKey{
				Name:      fk.ConstraintName,
				RefSchema: fk.TargetSchema,
				RefTable:  fk.TargetTable,
			})
			n++
		}
		t.ForeignKeys[n-1].Columns = append(t.ForeignKeys[n-1].Columns, fk.SourceColumn)
		t.ForeignKeys[n-1].RefColumns = append(t.ForeignKeys[n-1].RefColumns, fk.TargetColumn)
	}

	for _, p := range policies {
		i, ok := index[models.TableKey(p.SchemaName, p.TableName)]
		if !ok {
			continue
		}
		out[i].Policies = append(out[i].Policies, models.RowSecurityPolicy{
			Name:            p.PolicyName,
			Command:         p.Command,
			Roles:           p.Roles,
			Using:           p.Using,
			RequiredMarkers: PolicyMarkers(p.Using),
		})
	}

	return models.NewSchemaSnapshot(out, extractedAt)
}
