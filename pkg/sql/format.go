package sql

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

type limitMode int

const (
	limitKeep limitMode = iota
	limitOmit
	limitSet
)

// Expression precedence, lowest binds loosest.
const (
	precOr = iota + 1
	precAnd
	precNot
	precIs
	precCompare
	precPredicate
	precConcat
	precAdditive
	precMultiplicative
	precUnary
	precCast
	precPrimary
)

// quotedAlways are words PostgreSQL reserves beyond the parser's own list.
var quotedAlways = map[string]bool{
	"user": true, "table": true, "column": true, "check": true, "default": true,
	"primary": true, "references": true, "unique": true, "constraint": true,
	"only": true, "current_date": true, "current_time": true, "current_timestamp": true,
	"current_user": true, "session_user": true, "analyse": true, "analyze": true,
	"array": true, "both": true, "collate": true, "create": true, "deferrable": true,
	"do": true, "foreign": true, "grant": true, "initially": true, "leading": true,
	"localtime": true, "localtimestamp": true, "placing": true, "symmetric": true,
	"trailing": true, "variadic": true, "asymmetric": true, "authorization": true,
	"binary": true, "collation": true, "concurrently": true, "freeze": true,
	"notnull": true, "isnull": true, "overlaps": true, "similar": true, "verbose": true,
	"tablesample": true, "current_catalog": true, "current_role": true, "current_schema": true,
}

// QuoteIdent renders an identifier, quoting it only when PostgreSQL would
// otherwise fold or misread it.
func QuoteIdent(name string) string {
	if isPlainIdent(name) && !reserved[name] && !quotedAlways[name] {
		return name
	}
	return pgx.Identifier{name}.Sanitize()
}

func isPlainIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '$'):
		default:
			return false
		}
	}
	return true
}

func quoteParts(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = QuoteIdent(p)
	}
	return strings.Join(quoted, ".")
}

// QuoteString renders s as a standard-conforming string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Format renders stmt as canonical SQL.
func Format(stmt *SelectStatement) string {
	return formatTop(stmt, limitKeep, 0)
}

func formatTop(stmt *SelectStatement, mode limitMode, limit int) string {
	f := &formatter{}
	f.statement(stmt, mode, limit)
	return f.b.String()
}

type formatter struct {
	b strings.Builder
}

func (f *formatter) write(parts ...string) {
	for _, p := range parts {
		f.b.WriteString(p)
	}
}

func (f *formatter) anyStatement(s Statement) {
	switch v := s.(type) {
	case *SelectStatement:
		f.statement(v, limitKeep, 0)
	case *OtherStatement:
		f.write(strings.ToUpper(v.Verb), " ...")
	}
}

func (f *formatter) statement(s *SelectStatement, mode limitMode, limit int) {
	if len(s.With) > 0 {
		f.write("WITH ")
		if s.Recursive {
			f.write("RECURSIVE ")
		}
		for i, cte := range s.With {
			if i > 0 {
				f.write(", ")
			}
			f.write(QuoteIdent(cte.Name))
			if len(cte.Columns) > 0 {
				f.write(" (", quoteNames(cte.Columns), ")")
			}
			f.write(" AS (")
			f.anyStatement(cte.Query)
			f.write(")")
		}
		f.write(" ")
	}

	f.setExpr(s.Body, false)

	if len(s.OrderBy) > 0 {
		f.write(" ORDER BY ")
		f.orderItems(s.OrderBy)
	}
	switch mode {
	case limitKeep:
		if s.Limit != nil {
			f.write(" LIMIT ")
			f.expr(s.Limit, precOr)
		}
	case limitSet:
		f.write(" LIMIT ")
		f.cappedLimit(s.Limit, limit)
	}
	if s.Offset != nil {
		f.write(" OFFSET ")
		f.expr(s.Offset, precOr)
	}
	if s.Locking != "" {
		f.write(" ", strings.ToUpper(s.Locking))
	}
}

// cappedLimit writes n, or least(expr, n) when the statement's own LIMIT is
// an expression rather than a number.
func (f *formatter) cappedLimit(lim Expr, n int) {
	switch v := lim.(type) {
	case nil:
		f.write(strconv.Itoa(n))
		return
	case *Literal:
		if _, err := strconv.Atoi(v.Value); err == nil && v.Kind == LiteralNumber {
			f.write(strconv.Itoa(n))
			return
		}
	case *FuncCall:
		if len(v.Name) == 1 && v.Name[0] == "least" && len(v.Args) == 2 {
			if capped, ok := v.Args[1].(*Literal); ok && capped.Kind == LiteralNumber {
				if m, err := strconv.Atoi(capped.Value); err == nil && m >= 0 {
					lim = v.Args[0]
					n = min(n, m)
				}
			}
		}
	}
	f.write("least(")
	f.expr(lim, precOr)
	f.write(", ", strconv.Itoa(n), ")")
}

func quoteNames(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func (f *formatter) setExpr(s SetExpr, nested bool) {
	switch v := s.(type) {
	case *SelectCore:
		f.core(v)
	case *ParenSelect:
		f.write("(")
		f.statement(v.Query, limitKeep, 0)
		f.write(")")
	case *SetOperation:
		if nested {
			f.write("(")
		}
		f.setExpr(v.Left, true)
		f.write(" ", strings.ToUpper(v.Op))
		if v.All {
			f.write(" ALL")
		}
		f.write(" ")
		f.setExpr(v.Right, true)
		if nested {
			f.write(")")
		}
	}
}

func (f *formatter) core(c *SelectCore) {
	f.write("SELECT ")
	if c.Distinct {
		f.write("DISTINCT ")
		if len(c.DistinctOn) > 0 {
			f.write("ON (")
			f.exprList(c.DistinctOn)
			f.write(") ")
		}
	}
	for i, item := range c.Items {
		if i > 0 {
			f.write(", ")
		}
		f.expr(item.Expr, precOr)
		if item.Alias != "" {
			f.write(" AS ", QuoteIdent(item.Alias))
		}
	}
	if len(c.Into) > 0 {
		f.write(" INTO ", quoteParts(c.Into))
	}
	if len(c.From) > 0 {
		f.write(" FROM ")
		for i, t := range c.From {
			if i > 0 {
				f.write(", ")
			}
			f.table(t)
		}
	}
	if c.Where != nil {
		f.write(" WHERE ")
		f.expr(c.Where, precOr)
	}
	if len(c.GroupBy) > 0 {
		f.write(" GROUP BY ")
		f.exprList(c.GroupBy)
	}
	if c.Having != nil {
		f.write(" HAVING ")
		f.expr(c.Having, precOr)
	}
}

var joinKeywords = map[string]string{
	"inner": "JOIN",
	"left":  "LEFT JOIN",
	"right": "RIGHT JOIN",
	"full":  "FULL JOIN",
	"cross": "CROSS JOIN",
}

func (f *formatter) table(t TableExpr) {
	switch v := t.(type) {
	case *TableName:
		if v.Schema != "" {
			f.write(QuoteIdent(v.Schema), ".")
		}
		f.write(QuoteIdent(v.Name))
		f.alias(v.Alias)
	case *DerivedTable:
		if v.Lateral {
			f.write("LATERAL ")
		}
		f.write("(")
		f.statement(v.Query, limitKeep, 0)
		f.write(")")
		f.alias(v.Alias)
	case *FuncTable:
		f.funcCall(v.Call)
		f.alias(v.Alias)
	case *JoinExpr:
		f.table(v.Left)
		f.write(" ")
		if v.Natural {
			f.write("NATURAL ")
		}
		f.write(joinKeywords[v.Kind], " ")
		if _, nested := v.Right.(*JoinExpr); nested {
			f.write("(")
			f.table(v.Right)
			f.write(")")
		} else {
			f.table(v.Right)
		}
		switch {
		case v.On != nil:
			f.write(" ON ")
			f.expr(v.On, precOr)
		case len(v.Using) > 0:
			f.write(" USING (", quoteNames(v.Using), ")")
		}
	}
}

func (f *formatter) alias(a string) {
	if a != "" {
		f.write(" AS ", QuoteIdent(a))
	}
}

func (f *formatter) orderItems(items []*OrderItem) {
	for i, o := range items {
		if i > 0 {
			f.write(", ")
		}
		f.expr(o.Expr, precOr)
		if o.Desc {
			f.write(" DESC")
		}
		if o.NullsFirst != nil {
			if *o.NullsFirst {
				f.write(" NULLS FIRST")
			} else {
				f.write(" NULLS LAST")
			}
		}
	}
}

func (f *formatter) exprList(list []Expr) {
	for i, e := range list {
		if i > 0 {
			f.write(", ")
		}
		f.expr(e, precOr)
	}
}

func precedence(e Expr) int {
	switch v := e.(type) {
	case *BinaryExpr:
		switch v.Op {
		case "or":
			return precOr
		case "and":
			return precAnd
		case "like", "ilike", "not like", "not ilike":
			return precPredicate
		case "||":
			return precConcat
		case "+", "-":
			return precAdditive
		case "*", "/", "%":
			return precMultiplicative
		default:
			return precCompare
		}
	case *UnaryExpr:
		if v.Op == "not" {
			return precNot
		}
		return precUnary
	case *IsExpr:
		return precIs
	case *InExpr, *BetweenExpr:
		return precPredicate
	case *CastExpr:
		return precCast
	default:
		return precPrimary
	}
}

// expr writes e, parenthesizing it when it binds looser than floor.
func (f *formatter) expr(e Expr, floor int) {
	prec := precedence(e)
	if prec < floor {
		f.write("(")
		defer f.write(")")
	}

	switch v := e.(type) {
	case *ColumnRef:
		f.write(quoteParts(v.Parts))
	case *Star:
		if len(v.Qualifier) > 0 {
			f.write(quoteParts(v.Qualifier), ".")
		}
		f.write("*")
	case *Literal:
		switch v.Kind {
		case LiteralString:
			f.write(QuoteString(v.Value))
		case LiteralNumber:
			f.write(v.Value)
		default:
			f.write(strings.ToUpper(v.Value))
		}
	case *Param:
		f.write("$", strconv.Itoa(v.Index))
	case *BinaryExpr:
		left, right := prec, prec+1
		if prec == precCompare || prec == precPredicate {
			left = prec + 1
		}
		f.expr(v.Left, left)
		if v.Op == "and" || v.Op == "or" || strings.HasSuffix(v.Op, "like") {
			f.write(" ", strings.ToUpper(v.Op), " ")
		} else {
			f.write(" ", v.Op, " ")
		}
		f.expr(v.Right, right)
	case *UnaryExpr:
		if v.Op == "not" {
			f.write("NOT ")
			f.expr(v.Expr, precNot)
		} else {
			f.write(v.Op)
			f.expr(v.Expr, precCast)
		}
	case *IsExpr:
		f.expr(v.Expr, precCompare)
		f.write(" IS ")
		if v.Not {
			f.write("NOT ")
		}
		f.write(strings.ToUpper(v.What))
	case *InExpr:
		f.expr(v.Expr, precConcat)
		if v.Not {
			f.write(" NOT")
		}
		f.write(" IN (")
		if v.Query != nil {
			f.statement(v.Query, limitKeep, 0)
		} else {
			f.exprList(v.List)
		}
		f.write(")")
	case *BetweenExpr:
		f.expr(v.Expr, precConcat)
		if v.Not {
			f.write(" NOT")
		}
		f.write(" BETWEEN ")
		f.expr(v.Low, precConcat)
		f.write(" AND ")
		f.expr(v.High, precConcat)
	case *FuncCall:
		f.funcCall(v)
	case *CaseExpr:
		f.write("CASE")
		if v.Operand != nil {
			f.write(" ")
			f.expr(v.Operand, precOr)
		}
		for _, w := range v.Whens {
			f.write(" WHEN ")
			f.expr(w.Cond, precOr)
			f.write(" THEN ")
			f.expr(w.Result, precOr)
		}
		if v.Else != nil {
			f.write(" ELSE ")
			f.expr(v.Else, precOr)
		}
		f.write(" END")
	case *CastExpr:
		f.expr(v.Expr, precCast)
		f.write("::", v.Type)
	case *SubqueryExpr:
		f.write("(")
		f.statement(v.Query, limitKeep, 0)
		f.write(")")
	case *ExistsExpr:
		f.write("EXISTS (")
		f.statement(v.Query, limitKeep, 0)
		f.write(")")
	}
}

func (f *formatter) funcCall(c *FuncCall) {
	if len(c.Name) == 1 && c.Name[0] == "extract" && len(c.Args) == 2 {
		f.write("extract(")
		f.expr(c.Args[0], precOr)
		f.write(" FROM ")
		f.expr(c.Args[1], precOr)
		f.write(")")
		return
	}

	f.write(quoteParts(c.Name), "(")
	switch {
	case c.Star:
		f.write("*")
	default:
		if c.Distinct {
			f.write("DISTINCT ")
		}
		f.exprList(c.Args)
	}
	f.write(")")
	if c.Filter != nil {
		f.write(" FILTER (WHERE ")
		f.expr(c.Filter, precOr)
		f.write(")")
	}
	if c.Over != nil {
		f.write(" OVER (")
		if len(c.Over.PartitionBy) > 0 {
			f.write("PARTITION BY ")
			f.exprList(c.Over.PartitionBy)
			if len(c.Over.OrderBy) > 0 {
				f.write(" ")
			}
		}
		if len(c.Over.OrderBy) > 0 {
			f.write("ORDER BY ")
			f.orderItems(c.Over.OrderBy)
		}
		f.write(")")
	}
}
