// Package sqlgen compiles a bound Intent into a parameterized SELECT.
package sqlgen

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
)

// selectTemplate is the single statement shape the generator emits. Every
// field is either a quoted identifier or a $n placeholder.
var selectTemplate = template.Must(template.New("select").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(
	`SELECT {{join .Select ", "}} FROM {{.From}}` +
		`{{range .Joins}} JOIN {{.Table}} ON {{join .On " AND "}}{{end}}` +
		`{{if .Where}} WHERE {{join .Where " AND "}}{{end}}` +
		`{{if .GroupBy}} GROUP BY {{join .GroupBy ", "}}{{end}}` +
		`{{if .OrderBy}} ORDER BY {{join .OrderBy ", "}}{{end}}` +
		` LIMIT {{.Limit}}`,
))

type joinClause struct {
	Table string
	On    []string
}

type selectParts struct {
	Select  []string
	From    string
	Joins   []joinClause
	Where   []string
	GroupBy []string
	OrderBy []string
	Limit   int
}

// Generator renders intents. It is stateless and safe for concurrent use.
type Generator struct {
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

// NewGenerator creates a generator with the configured limits.
func NewGenerator(cfg config.GeneratorConfig, logger *zap.Logger) *Generator {
	return &Generator{
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		logger:       logger.Named("sqlgen"),
	}
}

func unsupported(format string, args ...any) error {
	return apperrors.New(apperrors.KindUnsupported, fmt.Sprintf(format, args...))
}

// Generate compiles in. The intent must have been bound by the resolver.
func (g *Generator) Generate(in *models.Intent) (*models.RawSQL, error) {
	if in == nil || in.Source == nil {
		return nil, unsupported("intent is not bound to the schema slice")
	}

	r := &renderer{plan: in.Source, qualify: len(in.Source.Joins) > 0}
	parts := selectParts{
		From:  renderTable(in.Source.Base),
		Limit: g.limit(in.Limit),
	}

	for _, j := range in.Source.Joins {
		clause := joinClause{Table: renderTable(j.Table)}
		for _, on := range j.On {
			clause.On = append(clause.On, r.column(on.Left)+" = "+r.column(on.Right))
		}
		parts.Joins = append(parts.Joins, clause)
	}

	for _, id := range in.Target {
		col, err := r.ident(id)
		if err != nil {
			return nil, err
		}
		parts.Select = append(parts.Select, col)
	}

	aliases := make(map[string]string)
	for _, a := range in.Aggregates {
		expr, err := r.aggregate(a)
		if err != nil {
			return nil, err
		}
		alias := a.AggregateAlias()
		aliases[strings.ToLower(alias)] = sql.QuoteIdent(alias)
		parts.Select = append(parts.Select, expr+" AS "+sql.QuoteIdent(alias))
	}
	if len(parts.Select) == 0 {
		return nil, unsupported("intent selects nothing")
	}

	for _, f := range in.Filters {
		pred, err := r.filter(f)
		if err != nil {
			return nil, err
		}
		parts.Where = append(parts.Where, pred)
	}

	grouped, err := g.groupBy(r, in)
	if err != nil {
		return nil, err
	}
	parts.GroupBy = grouped

	for _, o := range in.OrderBy {
		var target string
		if alias, ok := aliases[strings.ToLower(o.Column)]; ok {
			target = alias
		} else if target, err = r.ident(o.Column); err != nil {
			return nil, err
		}
		switch strings.ToLower(o.Direction) {
		case models.DirectionAsc, "":
			parts.OrderBy = append(parts.OrderBy, target)
		case models.DirectionDesc:
			parts.OrderBy = append(parts.OrderBy, target+" DESC")
		default:
			return nil, unsupported("unsupported sort direction %q", o.Direction)
		}
	}

	var b strings.Builder
	if err := selectTemplate.Execute(&b, parts); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to render query", err)
	}

	g.logger.Debug("Generated query",
		zap.Int("params", len(r.params)),
		zap.Int("limit", parts.Limit))
	return &models.RawSQL{SQL: b.String(), Params: r.params}, nil
}

func (g *Generator) limit(requested *int) int {
	switch {
	case requested == nil || *requested <= 0:
		return g.defaultLimit
	case *requested > g.maxLimit:
		return g.maxLimit
	default:
		return *requested
	}
}

// groupBy returns the explicit grouping plus any plain target column that
// must be grouped because aggregates are present.
func (g *Generator) groupBy(r *renderer, in *models.Intent) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) error {
		col, err := r.ident(id)
		if err != nil {
			return err
		}
		if !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
		return nil
	}
	for _, id := range in.GroupBy {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	if len(in.Aggregates) > 0 {
		for _, id := range in.Target {
			if err := add(id); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

type renderer struct {
	plan    *models.SourcePlan
	qualify bool
	params  []any
}

func renderTable(t models.TableRef) string {
	if t.Schema == "" || strings.EqualFold(t.Schema, models.DefaultSchemaName) {
		return sql.QuoteIdent(t.Name)
	}
	return sql.QuoteIdent(t.Schema) + "." + sql.QuoteIdent(t.Name)
}

func (r *renderer) column(c models.ColumnRef) string {
	if !r.qualify {
		return sql.QuoteIdent(c.Column)
	}
	return renderTable(c.Table) + "." + sql.QuoteIdent(c.Column)
}

func (r *renderer) ident(id string) (string, error) {
	ref, ok := r.plan.Refs[id]
	if !ok {
		return "", unsupported("identifier %q is not bound", id)
	}
	return r.column(ref), nil
}

func (r *renderer) bind(v any) string {
	r.params = append(r.params, v)
	return "$" + strconv.Itoa(len(r.params))
}

func (r *renderer) aggregate(a models.Aggregate) (string, error) {
	fn := strings.ToLower(a.Func)
	known := false
	for _, f := range models.AggregateFuncs {
		if f == fn {
			known = true
			break
		}
	}
	if !known {
		return "", unsupported("unsupported aggregate %q", a.Func)
	}
	if a.Column == "" || a.Column == "*" {
		if fn != "count" {
			return "", unsupported("%s requires a column", fn)
		}
		return "count(*)", nil
	}
	col, err := r.ident(a.Column)
	if err != nil {
		return "", err
	}
	return fn + "(" + col + ")", nil
}

var comparisonOps = map[string]string{
	models.OpEq:    "=",
	models.OpNeq:   "<>",
	models.OpLt:    "<",
	models.OpLte:   "<=",
	models.OpGt:    ">",
	models.OpGte:   ">=",
	models.OpLike:  "LIKE",
	models.OpILike: "ILIKE",
}

func (r *renderer) filter(f models.Filter) (string, error) {
	col, err := r.ident(f.Column)
	if err != nil {
		return "", err
	}
	op := strings.ToLower(strings.TrimSpace(f.Operator))

	if sqlOp, ok := comparisonOps[op]; ok {
		v, err := scalar(f.Value)
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", unsupported("operator %s needs a value; use is null", op)
		}
		return col + " " + sqlOp + " " + r.bind(v), nil
	}

	switch op {
	case models.OpIsNull:
		return col + " IS NULL", nil
	case models.OpIsNotNull:
		return col + " IS NOT NULL", nil
	case models.OpIn, models.OpNotIn:
		values, err := list(f.Value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			return "", unsupported("operator %s needs at least one value", op)
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = r.bind(v)
		}
		keyword := " IN ("
		if op == models.OpNotIn {
			keyword = " NOT IN ("
		}
		return col + keyword + strings.Join(placeholders, ", ") + ")", nil
	case models.OpBetween:
		values, err := list(f.Value)
		if err != nil {
			return "", err
		}
		if len(values) != 2 {
			return "", unsupported("between needs exactly two values")
		}
		return col + " BETWEEN " + r.bind(values[0]) + " AND " + r.bind(values[1]), nil
	}
	return "", unsupported("unsupported operator %q", f.Operator)
}

// scalar converts a decoded JSON value into a bind parameter. Integers
// become int64 and other numbers exact decimals.
func scalar(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int, int64:
		return val, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return nil, unsupported("invalid number %q", val.String())
		}
		return d, nil
	}
	return nil, unsupported("unsupported value of type %T", v)
}

func list(v any) ([]any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, unsupported("expected a list of values, got %T", v)
	}
	out := make([]any, len(items))
	for i, item := range items {
		s, err := scalar(item)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, unsupported("null is not allowed in a value list")
		}
		out[i] = s
	}
	return out, nil
}
