package models

// Intent is the contract-validated representation of a question's query goal.
// Only the JSON fields are part of the LLM contract; Source is filled in by
// the resolver after binding identifiers to the ranked slice.
type Intent struct {
	Target     []string    `json:"target"`
	Filters    []Filter    `json:"filters"`
	Aggregates []Aggregate `json:"aggregates,omitempty"`
	GroupBy    []string    `json:"group_by,omitempty"`
	OrderBy    []OrderBy   `json:"order_by,omitempty"`
	Limit      *int        `json:"limit,omitempty"`

	Source *SourcePlan `json:"-"`
}

// Filter is a single predicate: column operator value.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Aggregate applies an aggregate function to a column, or to "*" for count.
type Aggregate struct {
	Func   string `json:"func"`
	Column string `json:"column"`
	Alias  string `json:"alias,omitempty"`
}

// OrderBy orders results by a column or an aggregate alias.
type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

// Filter operators accepted by the contract.
const (
	OpEq        = "="
	OpNeq       = "!="
	OpLt        = "<"
	OpLte       = "<="
	OpGt        = ">"
	OpGte       = ">="
	OpLike      = "like"
	OpILike     = "ilike"
	OpIn        = "in"
	OpNotIn     = "not in"
	OpBetween   = "between"
	OpIsNull    = "is null"
	OpIsNotNull = "is not null"
)

// Operators is the operator allow-list in the order shown to the LLM.
var Operators = []string{
	OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpLike, OpILike,
	OpIn, OpNotIn, OpBetween, OpIsNull, OpIsNotNull,
}

// AggregateFuncs is the aggregate allow-list.
var AggregateFuncs = []string{"count", "sum", "avg", "min", "max"}

// Sort directions.
const (
	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// SourcePlan records how intent identifiers were bound to ranked tables.
type SourcePlan struct {
	Base  TableRef            `json:"base"`
	Joins []JoinStep          `json:"joins,omitempty"`
	Refs  map[string]ColumnRef `json:"refs"`
}

// TableRef names a table.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Key returns the canonical key of the table.
func (t TableRef) Key() string {
	return TableKey(t.Schema, t.Name)
}

// ColumnRef names a column of a table.
type ColumnRef struct {
	Table  TableRef `json:"table"`
	Column string   `json:"column"`
}

// JoinStep adds Table to the FROM clause, joined on equal column pairs.
type JoinStep struct {
	Table TableRef      `json:"table"`
	On    []JoinColumns `json:"on"`
}

// JoinColumns is one equality of a join condition.
type JoinColumns struct {
	Left  ColumnRef `json:"left"`
	Right ColumnRef `json:"right"`
}

// AggregateAlias returns the output name of an aggregate.
func (a Aggregate) AggregateAlias() string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Column == "" || a.Column == "*" {
		return a.Func
	}
	col := a.Column
	for i := len(col) - 1; i >= 0; i-- {
		if col[i] == '.' {
			col = col[i+1:]
			break
		}
	}
	return a.Func + "_" + col
}
