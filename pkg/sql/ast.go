package sql

// Node is any element of a parsed statement.
type Node interface {
	node()
}

// Statement is a top-level statement or a CTE body.
type Statement interface {
	Node
	statement()
}

// SetExpr is the body of a SELECT: a single core or a set operation.
type SetExpr interface {
	Node
	setExpr()
}

// TableExpr is an item of a FROM clause.
type TableExpr interface {
	Node
	tableExpr()
}

// Expr is a scalar expression.
type Expr interface {
	Node
	expr()
}

// SelectStatement is a full query: optional CTEs, a body, and the clauses
// that apply to the whole body.
type SelectStatement struct {
	With      []*CTE
	Recursive bool
	Body      SetExpr
	OrderBy   []*OrderItem
	Limit     Expr // nil when absent or LIMIT ALL
	Offset    Expr
	Locking   string // "for update", "for share", ... ; empty when absent
}

// OtherStatement is any statement that is not a query. Only its verb is
// recorded; the validator rejects it.
type OtherStatement struct {
	Verb string
}

// CTE is a WITH-clause entry.
type CTE struct {
	Name    string
	Columns []string
	Query   Statement
}

// SelectCore is one SELECT ... FROM ... WHERE ... GROUP BY ... HAVING block.
type SelectCore struct {
	Distinct   bool
	DistinctOn []Expr
	Items      []*SelectItem
	Into       []string // SELECT ... INTO target
	From       []TableExpr
	Where      Expr
	GroupBy    []Expr
	Having     Expr
}

// SetOperation combines two bodies with UNION, INTERSECT or EXCEPT.
type SetOperation struct {
	Op    string
	All   bool
	Left  SetExpr
	Right SetExpr
}

// ParenSelect is a parenthesized query used as a set operand.
type ParenSelect struct {
	Query *SelectStatement
}

// SelectItem is one output column.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool
}

// TableName references a stored relation or a CTE.
type TableName struct {
	Schema string
	Name   string
	Alias  string
}

// DerivedTable is a subquery in FROM.
type DerivedTable struct {
	Query   *SelectStatement
	Alias   string
	Lateral bool
}

// FuncTable is a set-returning function call in FROM.
type FuncTable struct {
	Call  *FuncCall
	Alias string
}

// JoinExpr joins two FROM items.
type JoinExpr struct {
	Kind    string // "inner", "left", "right", "full", "cross"
	Natural bool
	Left    TableExpr
	Right   TableExpr
	On      Expr
	Using   []string
}

// ColumnRef is a possibly qualified column name: col, rel.col or schema.rel.col.
type ColumnRef struct {
	Parts []string
}

// Star is * or rel.* in a select list.
type Star struct {
	Qualifier []string
}

// LiteralKind distinguishes literal values.
type LiteralKind int

const (
	LiteralNumber LiteralKind = iota
	LiteralString
	LiteralBool
	LiteralNull
)

// Literal is a constant.
type Literal struct {
	Kind  LiteralKind
	Value string
}

// Param is a positional bind parameter $n.
type Param struct {
	Index int
}

// BinaryExpr applies an infix operator. Op is lower case for word
// operators ("and", "like", "not ilike").
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr applies a prefix operator: "not", "-" or "+".
type UnaryExpr struct {
	Op   string
	Expr Expr
}

// IsExpr is expr IS [NOT] NULL|TRUE|FALSE.
type IsExpr struct {
	Expr Expr
	Not  bool
	What string
}

// InExpr is expr [NOT] IN (list) or expr [NOT] IN (subquery).
type InExpr struct {
	Expr  Expr
	Not   bool
	List  []Expr
	Query *SelectStatement
}

// BetweenExpr is expr [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

// FuncCall is a function or aggregate invocation.
type FuncCall struct {
	Name     []string
	Args     []Expr
	Star     bool
	Distinct bool
	Filter   Expr
	Over     *WindowSpec
}

// WindowSpec is the OVER clause of a window function.
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []*OrderItem
}

// CaseExpr is CASE [operand] WHEN ... THEN ... [ELSE ...] END.
type CaseExpr struct {
	Operand Expr
	Whens   []*When
	Else    Expr
}

// When is one branch of a CASE.
type When struct {
	Cond   Expr
	Result Expr
}

// CastExpr is CAST(expr AS type), expr::type or a typed literal.
type CastExpr struct {
	Expr Expr
	Type string
}

// SubqueryExpr is a scalar subquery.
type SubqueryExpr struct {
	Query *SelectStatement
}

// ExistsExpr is [NOT] EXISTS (subquery).
type ExistsExpr struct {
	Query *SelectStatement
}

func (*SelectStatement) node() {}
func (*OtherStatement) node()  {}
func (*CTE) node()             {}
func (*SelectCore) node()      {}
func (*SetOperation) node()    {}
func (*ParenSelect) node()     {}
func (*SelectItem) node()      {}
func (*OrderItem) node()       {}
func (*TableName) node()       {}
func (*DerivedTable) node()    {}
func (*FuncTable) node()       {}
func (*JoinExpr) node()        {}
func (*ColumnRef) node()       {}
func (*Star) node()            {}
func (*Literal) node()         {}
func (*Param) node()           {}
func (*BinaryExpr) node()      {}
func (*UnaryExpr) node()       {}
func (*IsExpr) node()          {}
func (*InExpr) node()          {}
func (*BetweenExpr) node()     {}
func (*FuncCall) node()        {}
func (*WindowSpec) node()      {}
func (*CaseExpr) node()        {}
func (*When) node()            {}
func (*CastExpr) node()        {}
func (*SubqueryExpr) node()    {}
func (*ExistsExpr) node()      {}

func (*SelectStatement) statement() {}
func (*OtherStatement) statement()  {}

func (*SelectCore) setExpr()   {}
func (*SetOperation) setExpr() {}
func (*ParenSelect) setExpr()  {}

func (*TableName) tableExpr()    {}
func (*DerivedTable) tableExpr() {}
func (*FuncTable) tableExpr()    {}
func (*JoinExpr) tableExpr()     {}

func (*ColumnRef) expr()    {}
func (*Star) expr()         {}
func (*Literal) expr()      {}
func (*Param) expr()        {}
func (*BinaryExpr) expr()   {}
func (*UnaryExpr) expr()    {}
func (*IsExpr) expr()       {}
func (*InExpr) expr()       {}
func (*BetweenExpr) expr()  {}
func (*FuncCall) expr()     {}
func (*CaseExpr) expr()     {}
func (*CastExpr) expr()     {}
func (*SubqueryExpr) expr() {}
func (*ExistsExpr) expr()   {}

// Walk visits n and its descendants depth-first. If fn returns false the
// children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *SelectStatement:
		for _, c := range v.With {
			Walk(c, fn)
		}
		walkSet(v.Body, fn)
		for _, o := range v.OrderBy {
			Walk(o, fn)
		}
		walkExpr(v.Limit, fn)
		walkExpr(v.Offset, fn)
	case *CTE:
		if v.Query != nil {
			Walk(v.Query, fn)
		}
	case *SelectCore:
		for _, e := range v.DistinctOn {
			walkExpr(e, fn)
		}
		for _, it := range v.Items {
			Walk(it, fn)
		}
		for _, f := range v.From {
			walkTable(f, fn)
		}
		walkExpr(v.Where, fn)
		for _, e := range v.GroupBy {
			walkExpr(e, fn)
		}
		walkExpr(v.Having, fn)
	case *SetOperation:
		walkSet(v.Left, fn)
		walkSet(v.Right, fn)
	case *ParenSelect:
		if v.Query != nil {
			Walk(v.Query, fn)
		}
	case *SelectItem:
		walkExpr(v.Expr, fn)
	case *OrderItem:
		walkExpr(v.Expr, fn)
	case *DerivedTable:
		if v.Query != nil {
			Walk(v.Query, fn)
		}
	case *FuncTable:
		if v.Call != nil {
			Walk(v.Call, fn)
		}
	case *JoinExpr:
		walkTable(v.Left, fn)
		walkTable(v.Right, fn)
		walkExpr(v.On, fn)
	case *BinaryExpr:
		walkExpr(v.Left, fn)
		walkExpr(v.Right, fn)
	case *UnaryExpr:
		walkExpr(v.Expr, fn)
	case *IsExpr:
		walkExpr(v.Expr, fn)
	case *InExpr:
		walkExpr(v.Expr, fn)
		for _, e := range v.List {
			walkExpr(e, fn)
		}
		if v.Query != nil {
			Walk(v.Query, fn)
		}
	case *BetweenExpr:
		walkExpr(v.Expr, fn)
		walkExpr(v.Low, fn)
		walkExpr(v.High, fn)
	case *FuncCall:
		for _, a := range v.Args {
			walkExpr(a, fn)
		}
		walkExpr(v.Filter, fn)
		if v.Over != nil {
			Walk(v.Over, fn)
		}
	case *WindowSpec:
		for _, e := range v.PartitionBy {
			walkExpr(e, fn)
		}
		for _, o := range v.OrderBy {
			Walk(o, fn)
		}
	case *CaseExpr:
		walkExpr(v.Operand, fn)
		for _, w := range v.Whens {
			Walk(w, fn)
		}
		walkExpr(v.Else, fn)
	case *When:
		walkExpr(v.Cond, fn)
		walkExpr(v.Result, fn)
	case *CastExpr:
		walkExpr(v.Expr, fn)
	case *SubqueryExpr:
		if v.Query != nil {
			Walk(v.Query, fn)
		}
	case *ExistsExpr:
		if v.Query != nil {
			Walk(v.Query, fn)
		}
	}
}

func walkExpr(e Expr, fn func(Node) bool) {
	if e != nil {
		Walk(e, fn)
	}
}

func walkSet(s SetExpr, fn func(Node) bool) {
	if s != nil {
		Walk(s, fn)
	}
}

func walkTable(t TableExpr, fn func(Node) bool) {
	if t != nil {
		Walk(t, fn)
	}
}
