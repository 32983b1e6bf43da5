package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultSchemaName is assumed for table references without a schema qualifier.
const DefaultSchemaName = "public"

// SchemaSnapshot is an immutable, versioned view of the database catalog.
// It is shared read-only between requests; refreshes publish a new snapshot
// rather than mutating this one.
type SchemaSnapshot struct {
	Version     string        `json:"version" yaml:"version"`
	ExtractedAt time.Time     `json:"extracted_at" yaml:"extracted_at"`
	Tables      []SchemaTable `json:"tables" yaml:"tables"`

	// index is shared by copies of the snapshot, which also share Tables.
	index *tableIndex
}

type tableIndex struct {
	once  sync.Once
	byKey map[string]int
}

// SchemaTable describes one table of the snapshot.
type SchemaTable struct {
	SchemaName  string              `json:"schema_name" yaml:"schema_name"`
	TableName   string              `json:"table_name" yaml:"table_name"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	RowEstimate int64               `json:"row_estimate" yaml:"row_estimate"`
	RowSecurity bool                `json:"row_security,omitempty" yaml:"row_security,omitempty"`
	Columns     []SchemaColumn      `json:"columns" yaml:"columns"`
	PrimaryKey  []string            `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	ForeignKeys []ForeignKey        `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
	Policies    []RowSecurityPolicy `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// SchemaColumn describes one column of a table.
type SchemaColumn struct {
	ColumnName      string `json:"column_name" yaml:"column_name"`
	DataType        string `json:"data_type" yaml:"data_type"`
	IsNullable      bool   `json:"is_nullable" yaml:"is_nullable"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	OrdinalPosition int    `json:"ordinal_position" yaml:"ordinal_position"`
}

// ForeignKey links columns of the owning table to columns of another table.
type ForeignKey struct {
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Columns    []string `json:"columns" yaml:"columns"`
	RefSchema  string   `json:"ref_schema" yaml:"ref_schema"`
	RefTable   string   `json:"ref_table" yaml:"ref_table"`
	RefColumns []string `json:"ref_columns" yaml:"ref_columns"`
}

// RowSecurityPolicy is a row-level security policy defined on a table.
// RequiredMarkers lists the execution context markers (for example
// "tenant_id") a caller must carry before the table may be queried.
type RowSecurityPolicy struct {
	Name            string   `json:"name" yaml:"name"`
	Command         string   `json:"command,omitempty" yaml:"command,omitempty"`
	Roles           []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Using           string   `json:"using,omitempty" yaml:"using,omitempty"`
	RequiredMarkers []string `json:"required_markers,omitempty" yaml:"required_markers,omitempty"`
}

// NewSchemaSnapshot builds a snapshot and stamps it with a content version.
func NewSchemaSnapshot(tables []SchemaTable, extractedAt time.Time) *SchemaSnapshot {
	s := &SchemaSnapshot{
		ExtractedAt: extractedAt.UTC(),
		Tables:      tables,
		index:       &tableIndex{},
	}
	s.Version = ContentVersion(tables)
	return s
}

// ContentVersion returns a stable identifier for the given table set. Two
// extractions of an unchanged catalog produce the same version.
func ContentVersion(tables []SchemaTable) string {
	data, err := json.Marshal(tables)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// TableKey returns the canonical "schema.table" key for a table reference.
func TableKey(schemaName, tableName string) string {
	if schemaName == "" {
		schemaName = DefaultSchemaName
	}
	return strings.ToLower(schemaName) + "." + strings.ToLower(tableName)
}

// Key returns the canonical key of the table.
func (t *SchemaTable) Key() string {
	return TableKey(t.SchemaName, t.TableName)
}

// DisplayName is the name shown to the LLM and used in generated SQL:
// unqualified for the default schema, "schema.table" otherwise.
func (t *SchemaTable) DisplayName() string {
	return DisplayName(t.SchemaName, t.TableName)
}

// DisplayName formats a table reference the way prompts and SQL show it.
func DisplayName(schemaName, tableName string) string {
	if schemaName == "" || strings.EqualFold(schemaName, DefaultSchemaName) {
		return tableName
	}
	return schemaName + "." + tableName
}

// Column returns the named column, matched case-insensitively.
func (t *SchemaTable) Column(name string) (*SchemaColumn, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].ColumnName, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// IsPrimaryKey reports whether the column is part of the primary key.
func (t *SchemaTable) IsPrimaryKey(column string) bool {
	for _, pk := range t.PrimaryKey {
		if strings.EqualFold(pk, column) {
			return true
		}
	}
	return false
}

// RequiredMarkers returns the union of markers required by the table's policies.
func (t *SchemaTable) RequiredMarkers() []string {
	seen := make(map[string]bool)
	var markers []string
	for _, p := range t.Policies {
		for _, m := range p.RequiredMarkers {
			if !seen[m] {
				seen[m] = true
				markers = append(markers, m)
			}
		}
	}
	return markers
}

// lookup finds a table position by key. Snapshots not built by
// NewSchemaSnapshot (decoded or literal values) have no index and are scanned.
func (s *SchemaSnapshot) lookup(key string) (int, bool) {
	if s.index == nil {
		for i := range s.Tables {
			if s.Tables[i].Key() == key {
				return i, true
			}
		}
		return 0, false
	}
	s.index.once.Do(func() {
		s.index.byKey = make(map[string]int, len(s.Tables))
		for i := range s.Tables {
			s.index.byKey[s.Tables[i].Key()] = i
		}
	})
	i, ok := s.index.byKey[key]
	return i, ok
}

// Table looks up a table by schema and name. An empty schema means the
// default schema.
func (s *SchemaSnapshot) Table(schemaName, tableName string) (*SchemaTable, bool) {
	return s.TableByKey(TableKey(schemaName, tableName))
}

// TableByKey looks up a table by its canonical key.
func (s *SchemaSnapshot) TableByKey(key string) (*SchemaTable, bool) {
	i, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	return &s.Tables[i], true
}

// Neighbors returns the keys of tables connected to key by a foreign key in
// either direction.
func (s *SchemaSnapshot) Neighbors(key string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(k string) {
		if k != key && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		for _, fk := range t.ForeignKeys {
			ref := TableKey(fk.RefSchema, fk.RefTable)
			switch {
			case t.Key() == key:
				add(ref)
			case ref == key:
				add(t.Key())
			}
		}
	}
	return out
}
