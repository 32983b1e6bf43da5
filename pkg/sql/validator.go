// Package sql parses, validates and canonicalizes generated PostgreSQL queries.
package sql

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// ValidatedQuery is a query that passed every validation rule. It can only
// be produced by Validator.Validate; its SQL is re-rendered from the checked
// syntax tree so the text that runs is the text that was checked.
type ValidatedQuery struct {
	stmt          *SelectStatement
	sql           string
	estimateSQL   string
	params        []any
	limit         int
	explicitLimit bool
	limitChanged  bool
	hasWhere      bool
	tables        []string
	slice         *models.RankedSlice
}

// SQL is the canonical statement with the effective LIMIT.
func (q *ValidatedQuery) SQL() string { return q.sql }

// Params are the positional values bound to $1..$n.
func (q *ValidatedQuery) Params() []any { return q.params }

// EstimateSQL is the statement submitted to the planner. It keeps the
// statement's own LIMIT, capped, but never carries an injected one.
func (q *ValidatedQuery) EstimateSQL() string { return q.estimateSQL }

// Limit is the effective row limit.
func (q *ValidatedQuery) Limit() int { return q.limit }

// ExplicitLimit reports whether the statement carried a literal LIMIT.
func (q *ValidatedQuery) ExplicitLimit() bool { return q.explicitLimit }

// LimitChanged reports whether the validator injected, clamped or replaced
// the LIMIT.
func (q *ValidatedQuery) LimitChanged() bool { return q.limitChanged }

// HasWhere reports whether the outermost query filters its rows.
func (q *ValidatedQuery) HasWhere() bool { return q.hasWhere }

// Tables returns the keys of every stored table the query reads, sorted as
// first referenced.
func (q *ValidatedQuery) Tables() []string { return q.tables }

// Slice returns the ranked slice the query was validated against.
func (q *ValidatedQuery) Slice() *models.RankedSlice { return q.slice }

// SnapshotVersion is the schema version the query was validated against.
func (q *ValidatedQuery) SnapshotVersion() string {
	if q.slice == nil {
		return ""
	}
	return q.slice.SnapshotVersion
}

// SQLWithLimit renders the statement with LIMIT n.
func (q *ValidatedQuery) SQLWithLimit(n int) string {
	return formatTop(q.stmt, limitSet, n)
}

// Validator enforces the read-only, function, reference and limit rules in
// that order; the first violated rule decides the error.
type Validator struct {
	functions    *FunctionPolicy
	limitCeiling int
	logger       *zap.Logger
}

// NewValidator creates a validator from configuration.
func NewValidator(cfg config.ValidatorConfig, logger *zap.Logger) *Validator {
	return &Validator{
		functions:    NewFunctionPolicy(cfg.ExtraFunctions, cfg.DeniedFunctions),
		limitCeiling: cfg.LimitCeiling,
		logger:       logger.Named("validator"),
	}
}

// Validate checks raw against slice and returns the validated form.
func (v *Validator) Validate(raw *models.RawSQL, slice *models.RankedSlice) (*ValidatedQuery, error) {
	if raw == nil || strings.TrimSpace(raw.SQL) == "" {
		return nil, apperrors.New(apperrors.KindNotReadOnly, "empty statement")
	}
	if slice == nil {
		slice = &models.RankedSlice{}
	}

	stmt, err := v.checkReadOnly(raw.SQL)
	if err != nil {
		v.logger.Debug("Rejected statement",
			zap.String("sql", logging.SanitizeQuery(raw.SQL)),
			zap.Error(err))
		return nil, err
	}

	if err := v.checkFunctions(stmt); err != nil {
		return nil, err
	}

	c := &refChecker{slice: slice, params: len(raw.Params), seen: make(map[string]bool)}
	if _, err := c.query(stmt, nil); err != nil {
		return nil, err
	}

	vq := &ValidatedQuery{
		stmt:   stmt,
		params: raw.Params,
		tables: c.tables,
		slice:  slice,
	}
	if core, ok := stmt.Body.(*SelectCore); ok {
		vq.hasWhere = core.Where != nil
	}
	v.applyLimit(stmt, vq)

	v.logger.Debug("Validated query",
		zap.Strings("tables", vq.tables),
		zap.Int("limit", vq.limit),
		zap.Bool("limit_changed", vq.limitChanged))
	return vq, nil
}

func (v *Validator) checkReadOnly(input string) (*SelectStatement, error) {
	stmts, err := Parse(input)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotReadOnly, "statement cannot be parsed as a read-only query", err)
	}
	if len(stmts) > 1 {
		return nil, apperrors.New(apperrors.KindNotReadOnly,
			fmt.Sprintf("expected a single statement, found %d", len(stmts)))
	}
	stmt, ok := stmts[0].(*SelectStatement)
	if !ok {
		verb := stmts[0].(*OtherStatement).Verb
		return nil, apperrors.New(apperrors.KindNotReadOnly,
			fmt.Sprintf("%s statements are not allowed", strings.ToUpper(verb)))
	}

	var violation string
	Walk(stmt, func(n Node) bool {
		switch node := n.(type) {
		case *OtherStatement:
			violation = fmt.Sprintf("%s inside WITH is not allowed", strings.ToUpper(node.Verb))
		case *SelectCore:
			if len(node.Into) > 0 {
				violation = "SELECT INTO creates a table"
			}
		case *SelectStatement:
			if node.Locking != "" {
				violation = fmt.Sprintf("%s takes row locks", strings.ToUpper(node.Locking))
			}
		}
		return violation == ""
	})
	if violation != "" {
		return nil, apperrors.New(apperrors.KindNotReadOnly, violation)
	}
	return stmt, nil
}

func (v *Validator) checkFunctions(stmt *SelectStatement) error {
	var denied string
	Walk(stmt, func(n Node) bool {
		if call, ok := n.(*FuncCall); ok && !v.functions.Allowed(call.Name) {
			denied = strings.Join(call.Name, ".")
		}
		return denied == ""
	})
	if denied != "" {
		return apperrors.New(apperrors.KindDisallowedFunction,
			fmt.Sprintf("function %s is not allowed", denied))
	}
	return nil
}

// applyLimit enforces the ceiling. A literal LIMIT is clamped; any other
// LIMIT expression is kept, so its parameters stay bound, and capped with
// least().
func (v *Validator) applyLimit(stmt *SelectStatement, vq *ValidatedQuery) {
	ceiling := v.limitCeiling
	injected := false
	switch lim := stmt.Limit.(type) {
	case nil:
		vq.limit = ceiling
		vq.limitChanged = true
		injected = true
	case *Literal:
		n, err := strconv.Atoi(lim.Value)
		if lim.Kind != LiteralNumber || err != nil || n < 0 {
			vq.limit = ceiling
			vq.limitChanged = true
			break
		}
		vq.explicitLimit = true
		if n > ceiling {
			vq.limit = ceiling
			vq.limitChanged = true
		} else {
			vq.limit = n
		}
	default:
		vq.limit = ceiling
		vq.limitChanged = true
	}

	vq.sql = formatTop(stmt, limitSet, vq.limit)
	if injected {
		vq.estimateSQL = formatTop(stmt, limitOmit, 0)
	} else {
		vq.estimateSQL = vq.sql
	}
}

// relation is one name visible in a FROM clause.
type relation struct {
	name      string
	aliased   bool
	table     *models.RankedTable
	columns   []string
	anyColumn bool
}

func (r *relation) hasColumn(name string) bool {
	if r.table != nil {
		_, ok := r.table.Column(name)
		return ok
	}
	if r.anyColumn {
		return true
	}
	for _, c := range r.columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func (r *relation) matches(qualifier []string) bool {
	switch len(qualifier) {
	case 1:
		return strings.EqualFold(r.name, qualifier[0])
	case 2:
		if r.table == nil || r.aliased {
			return false
		}
		return models.TableKey(qualifier[0], qualifier[1]) == r.table.Key()
	}
	return false
}

type scope struct {
	parent    *scope
	relations []*relation
	ctes      map[string]*relation
	aliases   map[string]bool
}

func (s *scope) lookupCTE(name string) (*relation, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if rel, ok := cur.ctes[strings.ToLower(name)]; ok {
			return rel, true
		}
	}
	return nil, false
}

// refChecker resolves every table, column and parameter reference.
type refChecker struct {
	slice  *models.RankedSlice
	params int
	seen   map[string]bool
	tables []string
}

func unknown(format string, args ...any) error {
	return apperrors.New(apperrors.KindUnknownReference, fmt.Sprintf(format, args...))
}

// query checks a statement and returns its output column names.
func (c *refChecker) query(stmt *SelectStatement, parent *scope) ([]string, error) {
	sc := &scope{parent: parent, ctes: make(map[string]*relation)}

	for _, cte := range stmt.With {
		key := strings.ToLower(cte.Name)
		if stmt.Recursive {
			sc.ctes[key] = &relation{name: cte.Name, columns: cte.Columns, anyColumn: len(cte.Columns) == 0}
		}
		body, ok := cte.Query.(*SelectStatement)
		if !ok {
			return nil, unknown("WITH entry %s is not a query", cte.Name)
		}
		cols, err := c.query(body, sc)
		if err != nil {
			return nil, err
		}
		if len(cte.Columns) > 0 {
			cols = cte.Columns
		}
		sc.ctes[key] = &relation{name: cte.Name, columns: cols}
	}

	outputs, bodyScope, err := c.setExpr(stmt.Body, sc)
	if err != nil {
		return nil, err
	}

	if len(stmt.OrderBy) > 0 {
		orderScope := bodyScope
		if orderScope == nil {
			orderScope = &scope{parent: sc, relations: []*relation{{columns: outputs}}}
		}
		for _, o := range stmt.OrderBy {
			if err := c.expr(o.Expr, orderScope, true); err != nil {
				return nil, err
			}
		}
	}
	if err := c.expr(stmt.Limit, sc, false); err != nil {
		return nil, err
	}
	if err := c.expr(stmt.Offset, sc, false); err != nil {
		return nil, err
	}
	return outputs, nil
}

// setExpr checks a query body. The returned scope is non-nil for a plain
// SELECT so ORDER BY can see its FROM items and output aliases.
func (c *refChecker) setExpr(body SetExpr, sc *scope) ([]string, *scope, error) {
	switch v := body.(type) {
	case *SelectCore:
		return c.core(v, sc)
	case *ParenSelect:
		outs, err := c.query(v.Query, sc)
		return outs, nil, err
	case *SetOperation:
		left, _, err := c.setExpr(v.Left, sc)
		if err != nil {
			return nil, nil, err
		}
		if _, _, err := c.setExpr(v.Right, sc); err != nil {
			return nil, nil, err
		}
		return left, nil, nil
	}
	return nil, nil, unknown("unsupported query body")
}

func (c *refChecker) core(core *SelectCore, parent *scope) ([]string, *scope, error) {
	sc := &scope{parent: parent, aliases: make(map[string]bool)}

	for _, item := range core.From {
		if err := c.from(item, sc); err != nil {
			return nil, nil, err
		}
	}

	var outputs []string
	for _, item := range core.Items {
		if star, ok := item.Expr.(*Star); ok {
			cols, err := c.star(star, sc)
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, cols...)
			continue
		}
		if err := c.expr(item.Expr, sc, false); err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, outputName(item))
		if item.Alias != "" {
			sc.aliases[strings.ToLower(item.Alias)] = true
		}
	}

	for _, e := range core.DistinctOn {
		if err := c.expr(e, sc, true); err != nil {
			return nil, nil, err
		}
	}
	if err := c.expr(core.Where, sc, false); err != nil {
		return nil, nil, err
	}
	for _, e := range core.GroupBy {
		if err := c.expr(e, sc, true); err != nil {
			return nil, nil, err
		}
	}
	if err := c.expr(core.Having, sc, false); err != nil {
		return nil, nil, err
	}
	return outputs, sc, nil
}

func outputName(item *SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	return exprName(item.Expr)
}

func exprName(e Expr) string {
	switch v := e.(type) {
	case *ColumnRef:
		return v.Parts[len(v.Parts)-1]
	case *FuncCall:
		return v.Name[len(v.Name)-1]
	case *CastExpr:
		return exprName(v.Expr)
	case *CaseExpr:
		return "case"
	}
	return "?column?"
}

func (c *refChecker) from(t TableExpr, sc *scope) error {
	switch v := t.(type) {
	case *TableName:
		rel, err := c.table(v, sc)
		if err != nil {
			return err
		}
		sc.relations = append(sc.relations, rel)
	case *DerivedTable:
		parent := sc.parent
		if v.Lateral {
			parent = sc
		}
		cols, err := c.query(v.Query, parent)
		if err != nil {
			return err
		}
		sc.relations = append(sc.relations, &relation{name: v.Alias, aliased: true, columns: cols})
	case *FuncTable:
		if err := c.expr(v.Call, sc, false); err != nil {
			return err
		}
		name := v.Alias
		if name == "" {
			name = v.Call.Name[len(v.Call.Name)-1]
		}
		sc.relations = append(sc.relations, &relation{name: name, aliased: true, columns: []string{name}})
	case *JoinExpr:
		if err := c.from(v.Left, sc); err != nil {
			return err
		}
		if err := c.from(v.Right, sc); err != nil {
			return err
		}
		if err := c.expr(v.On, sc, false); err != nil {
			return err
		}
		for _, col := range v.Using {
			if !anyHasColumn(sc.relations, col) {
				return unknown("join column %s does not exist", col)
			}
		}
	}
	return nil
}

func anyHasColumn(rels []*relation, col string) bool {
	for _, r := range rels {
		if r.hasColumn(col) {
			return true
		}
	}
	return false
}

func (c *refChecker) table(t *TableName, sc *scope) (*relation, error) {
	if t.Schema == "" {
		if cte, ok := sc.lookupCTE(t.Name); ok {
			rel := *cte
			if t.Alias != "" {
				rel.name = t.Alias
			}
			return &rel, nil
		}
	}

	ranked, ok := c.slice.Table(t.Schema, t.Name)
	if !ok {
		return nil, unknown("table %s is not in the schema slice", models.DisplayName(t.Schema, t.Name))
	}
	if key := ranked.Key(); !c.seen[key] {
		c.seen[key] = true
		c.tables = append(c.tables, key)
	}

	rel := &relation{name: t.Name, table: ranked}
	if t.Alias != "" {
		rel.name = t.Alias
		rel.aliased = true
	}
	return rel, nil
}

func (c *refChecker) star(s *Star, sc *scope) ([]string, error) {
	if len(s.Qualifier) == 0 {
		if len(sc.relations) == 0 {
			return nil, unknown("* requires a FROM clause")
		}
		var cols []string
		for _, rel := range sc.relations {
			if rel.table != nil {
				return nil, unknown("* over table %s; list the columns instead", rel.table.DisplayName())
			}
			cols = append(cols, rel.columns...)
		}
		return cols, nil
	}

	for cur := sc; cur != nil; cur = cur.parent {
		for _, rel := range cur.relations {
			if rel.matches(s.Qualifier) {
				if rel.table != nil {
					return nil, unknown("* over table %s; list the columns instead", rel.table.DisplayName())
				}
				return rel.columns, nil
			}
		}
	}
	return nil, unknown("relation %s is not in scope", strings.Join(s.Qualifier, "."))
}

func (c *refChecker) column(ref *ColumnRef, sc *scope, allowAliases bool) error {
	name := ref.Parts[len(ref.Parts)-1]
	qualifier := ref.Parts[:len(ref.Parts)-1]

	for cur := sc; cur != nil; cur = cur.parent {
		if len(qualifier) == 0 {
			if anyHasColumn(cur.relations, name) {
				return nil
			}
			if allowAliases && cur == sc && cur.aliases[strings.ToLower(name)] {
				return nil
			}
			continue
		}
		for _, rel := range cur.relations {
			if rel.matches(qualifier) {
				if rel.hasColumn(name) {
					return nil
				}
				return unknown("column %s does not exist in the schema slice", strings.Join(ref.Parts, "."))
			}
		}
	}
	if len(qualifier) > 0 {
		return unknown("relation %s is not in scope", strings.Join(qualifier, "."))
	}
	return unknown("column %s does not exist in the schema slice", name)
}

func (c *refChecker) exprs(list []Expr, sc *scope, allowAliases bool) error {
	for _, e := range list {
		if err := c.expr(e, sc, allowAliases); err != nil {
			return err
		}
	}
	return nil
}

func (c *refChecker) expr(e Expr, sc *scope, allowAliases bool) error {
	switch v := e.(type) {
	case nil:
		return nil
	case *ColumnRef:
		return c.column(v, sc, allowAliases)
	case *Star:
		_, err := c.star(v, sc)
		return err
	case *Param:
		if v.Index > c.params {
			return unknown("parameter $%d has no bound value", v.Index)
		}
		return nil
	case *Literal:
		return nil
	case *BinaryExpr:
		if err := c.expr(v.Left, sc, allowAliases); err != nil {
			return err
		}
		return c.expr(v.Right, sc, allowAliases)
	case *UnaryExpr:
		return c.expr(v.Expr, sc, allowAliases)
	case *IsExpr:
		return c.expr(v.Expr, sc, allowAliases)
	case *InExpr:
		if err := c.expr(v.Expr, sc, allowAliases); err != nil {
			return err
		}
		if v.Query != nil {
			_, err := c.query(v.Query, sc)
			return err
		}
		return c.exprs(v.List, sc, allowAliases)
	case *BetweenExpr:
		return c.exprs([]Expr{v.Expr, v.Low, v.High}, sc, allowAliases)
	case *FuncCall:
		if err := c.exprs(v.Args, sc, false); err != nil {
			return err
		}
		if err := c.expr(v.Filter, sc, false); err != nil {
			return err
		}
		if v.Over != nil {
			if err := c.exprs(v.Over.PartitionBy, sc, false); err != nil {
				return err
			}
			for _, o := range v.Over.OrderBy {
				if err := c.expr(o.Expr, sc, false); err != nil {
					return err
				}
			}
		}
		return nil
	case *CaseExpr:
		if err := c.expr(v.Operand, sc, allowAliases); err != nil {
			return err
		}
		for _, w := range v.Whens {
			if err := c.exprs([]Expr{w.Cond, w.Result}, sc, allowAliases); err != nil {
				return err
			}
		}
		return c.expr(v.Else, sc, allowAliases)
	case *CastExpr:
		return c.expr(v.Expr, sc, allowAliases)
	case *SubqueryExpr:
		_, err := c.query(v.Query, sc)
		return err
	case *ExistsExpr:
		_, err := c.query(v.Query, sc)
		return err
	}
	return unknown("unsupported expression")
}
