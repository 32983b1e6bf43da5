package models

import "time"

// RawSQL is generator output. It is untrusted until validated.
type RawSQL struct {
	SQL    string
	Params []any
}

// ResultColumn describes one output column of an execution.
type ResultColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExecutionResult holds the materialized, capped rows of one execution.
type ExecutionResult struct {
	RequestID       string         `json:"request_id"`
	SnapshotVersion string         `json:"snapshot_version"`
	Columns         []ResultColumn `json:"columns"`
	Rows            [][]any        `json:"rows"`
	RowCount        int            `json:"row_count"`
	Truncated       bool           `json:"truncated"`
	AppliedLimit    int            `json:"applied_limit"`
	Elapsed         time.Duration  `json:"elapsed"`
}

// RowMaps returns the rows keyed by column name.
func (r *ExecutionResult) RowMaps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col.Name] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
