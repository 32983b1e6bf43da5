package models

import (
	"fmt"
	"strings"
)

// RankedSlice is the relevance-ordered, budget-bounded subset of the schema
// exposed to the LLM for one question. Every reference in generated SQL must
// resolve against it.
type RankedSlice struct {
	SnapshotVersion string        `json:"snapshot_version"`
	Budget          int           `json:"budget"`
	Fallback        bool          `json:"fallback,omitempty"`
	Tables          []RankedTable `json:"tables"`
}

// RankedTable is one selected table with the columns that fit the budget.
type RankedTable struct {
	SchemaName  string              `json:"schema_name"`
	TableName   string              `json:"table_name"`
	Description string              `json:"description,omitempty"`
	RowEstimate int64               `json:"row_estimate"`
	RowSecurity bool                `json:"row_security,omitempty"`
	Policies    []RowSecurityPolicy `json:"policies,omitempty"`
	PrimaryKey  []string            `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey        `json:"foreign_keys,omitempty"`
	Score       float64             `json:"score"`
	Columns     []RankedColumn      `json:"columns"`
}

// RankedColumn is a selected column and its relevance score.
type RankedColumn struct {
	ColumnName  string  `json:"column_name"`
	DataType    string  `json:"data_type"`
	IsNullable  bool    `json:"is_nullable"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// RankedEntry is a flattened (table, column, score) tuple.
type RankedEntry struct {
	Table  string
	Column string
	Score  float64
}

// Key returns the canonical key of the table.
func (t *RankedTable) Key() string {
	return TableKey(t.SchemaName, t.TableName)
}

// DisplayName returns the name used in prompts and SQL.
func (t *RankedTable) DisplayName() string {
	return DisplayName(t.SchemaName, t.TableName)
}

// Column returns the selected column with the given name.
func (t *RankedTable) Column(name string) (*RankedColumn, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].ColumnName, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Render formats the table as the single line shown to the LLM, e.g.
//
//	orders(id integer pk, customer_id integer -> customers.id, created_at timestamptz) -- Customer orders
//
// The ranker budgets with the length of this rendering.
func (t *RankedTable) Render() string {
	var b strings.Builder
	b.WriteString(t.DisplayName())
	b.WriteByte('(')
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.ColumnName)
		if c.DataType != "" {
			b.WriteByte(' ')
			b.WriteString(c.DataType)
		}
		if containsFold(t.PrimaryKey, c.ColumnName) {
			b.WriteString(" pk")
		}
		for _, fk := range t.ForeignKeys {
			if len(fk.Columns) == 1 && strings.EqualFold(fk.Columns[0], c.ColumnName) && len(fk.RefColumns) == 1 {
				fmt.Fprintf(&b, " -> %s.%s", DisplayName(fk.RefSchema, fk.RefTable), fk.RefColumns[0])
			}
		}
	}
	b.WriteByte(')')
	if t.Description != "" {
		b.WriteString(" -- ")
		b.WriteString(t.Description)
	}
	return b.String()
}

// Size is the budget cost of the table: its rendering plus a newline.
func (t *RankedTable) Size() int {
	return len(t.Render()) + 1
}

// Size is the total budget cost of the slice.
func (s *RankedSlice) Size() int {
	total := 0
	for i := range s.Tables {
		total += s.Tables[i].Size()
	}
	return total
}

// Render formats every table, one per line, in rank order.
func (s *RankedSlice) Render() string {
	var b strings.Builder
	for i := range s.Tables {
		b.WriteString(s.Tables[i].Render())
		b.WriteByte('\n')
	}
	return b.String()
}

// Entries flattens the slice into ordered (table, column, score) tuples.
func (s *RankedSlice) Entries() []RankedEntry {
	var out []RankedEntry
	for i := range s.Tables {
		t := &s.Tables[i]
		for _, c := range t.Columns {
			out = append(out, RankedEntry{Table: t.Key(), Column: c.ColumnName, Score: c.Score})
		}
	}
	return out
}

// Table looks up a selected table. An empty schema means the default schema.
func (s *RankedSlice) Table(schemaName, tableName string) (*RankedTable, bool) {
	key := TableKey(schemaName, tableName)
	for i := range s.Tables {
		if s.Tables[i].Key() == key {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TablesWithColumn returns the selected tables that expose the named column.
func (s *RankedSlice) TablesWithColumn(column string) []*RankedTable {
	var out []*RankedTable
	for i := range s.Tables {
		if _, ok := s.Tables[i].Column(column); ok {
			out = append(out, &s.Tables[i])
		}
	}
	return out
}

// JoinBetween returns a foreign key connecting the two selected tables, in
// either direction, and whether the key is owned by from.
func (s *RankedSlice) JoinBetween(from, to *RankedTable) (ForeignKey, bool, bool) {
	for _, fk := range from.ForeignKeys {
		if TableKey(fk.RefSchema, fk.RefTable) == to.Key() && len(fk.Columns) == len(fk.RefColumns) {
			return fk, true, true
		}
	}
	for _, fk := range to.ForeignKeys {
		if TableKey(fk.RefSchema, fk.RefTable) == from.Key() && len(fk.Columns) == len(fk.RefColumns) {
			return fk, false, true
		}
	}
	return ForeignKey{}, false, false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
