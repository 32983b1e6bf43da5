package sql

import "strings"

// defaultFunctions are side-effect-free functions a generated query may call.
var defaultFunctions = []string{
	// aggregates
	"count", "sum", "avg", "min", "max", "bool_and", "bool_or", "every",
	"string_agg", "array_agg", "stddev", "stddev_pop", "stddev_samp",
	"variance", "var_pop", "var_samp", "percentile_cont", "percentile_disc", "mode",
	// window
	"row_number", "rank", "dense_rank", "percent_rank", "cume_dist", "ntile",
	"lag", "lead", "first_value", "last_value", "nth_value",
	// conditional
	"coalesce", "nullif", "greatest", "least",
	// string
	"lower", "upper", "length", "char_length", "character_length", "trim", "btrim",
	"ltrim", "rtrim", "substr", "substring", "concat", "concat_ws", "replace",
	"position", "strpos", "split_part", "initcap", "lpad", "rpad",
	"starts_with", "md5", "to_char",
	// numeric
	"abs", "ceil", "ceiling", "floor", "round", "trunc", "mod", "power", "sqrt",
	"sign", "ln", "log", "exp", "div",
	// date and time
	"date_trunc", "date_part", "extract", "now", "current_date", "age",
	"to_date", "to_timestamp", "make_date", "make_interval", "date_bin",
	"justify_days", "justify_hours", "justify_interval", "isfinite",
}

// FunctionPolicy decides which function names a query may call. Denied
// names win over allowed ones.
type FunctionPolicy struct {
	allowed map[string]bool
	denied  map[string]bool
}

// NewFunctionPolicy builds the default allow-list extended by extra and
// reduced by denied.
func NewFunctionPolicy(extra, denied []string) *FunctionPolicy {
	p := &FunctionPolicy{
		allowed: make(map[string]bool, len(defaultFunctions)+len(extra)),
		denied:  make(map[string]bool, len(denied)),
	}
	for _, name := range defaultFunctions {
		p.allowed[name] = true
	}
	for _, name := range extra {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			p.allowed[name] = true
		}
	}
	for _, name := range denied {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			p.denied[name] = true
		}
	}
	return p
}

// Allowed reports whether the possibly schema-qualified name may be called.
// Only pg_catalog qualification is accepted.
func (p *FunctionPolicy) Allowed(name []string) bool {
	switch len(name) {
	case 1:
	case 2:
		if name[0] != "pg_catalog" {
			return false
		}
	default:
		return false
	}
	fn := name[len(name)-1]
	return p.allowed[fn] && !p.denied[fn]
}
