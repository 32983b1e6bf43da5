package intent

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// BindError reports an identifier that cannot be bound to the ranked slice.
// It is a contract violation: the repair prompt can name valid identifiers.
type BindError struct {
	Identifier string
	Reason     string
}

func (e *BindError) Error() string {
	if e.Identifier == "" {
		return e.Reason
	}
	return fmt.Sprintf("%q: %s", e.Identifier, e.Reason)
}

// Bind resolves every identifier of in against slice and records the source
// tables and join path in in.Source. Unqualified columns that exist in more
// than one table bind to a table already in use, else to the highest ranked
// one.
func Bind(in *models.Intent, slice *models.RankedSlice) error {
	b := &binder{slice: slice, refs: make(map[string]models.ColumnRef)}

	aliases := make(map[string]bool)
	for _, a := range in.Aggregates {
		aliases[strings.ToLower(a.AggregateAlias())] = true
	}

	var idents []string
	idents = append(idents, in.Target...)
	for _, f := range in.Filters {
		idents = append(idents, f.Column)
	}
	for _, a := range in.Aggregates {
		if a.Column != "" && a.Column != "*" {
			idents = append(idents, a.Column)
		}
	}
	idents = append(idents, in.GroupBy...)
	for _, o := range in.OrderBy {
		if aliases[strings.ToLower(o.Column)] {
			continue
		}
		idents = append(idents, o.Column)
	}

	// Qualified identifiers first so they anchor unqualified ones.
	for _, id := range idents {
		if strings.Contains(id, ".") {
			if err := b.bind(id); err != nil {
				return err
			}
		}
	}
	for _, id := range idents {
		if !strings.Contains(id, ".") {
			if err := b.bind(id); err != nil {
				return err
			}
		}
	}

	if len(b.used) == 0 {
		// count(*) alone: use the top-ranked table.
		if len(slice.Tables) == 0 {
			return &BindError{Reason: "the schema slice has no tables"}
		}
		b.use(&slice.Tables[0])
	}

	plan, err := b.plan()
	if err != nil {
		return err
	}
	in.Source = plan
	return nil
}

type binder struct {
	slice *models.RankedSlice
	refs  map[string]models.ColumnRef
	used  []*models.RankedTable
}

func tableRef(t *models.RankedTable) models.TableRef {
	return models.TableRef{Schema: t.SchemaName, Name: t.TableName}
}

func (b *binder) use(t *models.RankedTable) {
	for _, u := range b.used {
		if u.Key() == t.Key() {
			return
		}
	}
	b.used = append(b.used, t)
}

func (b *binder) inUse(t *models.RankedTable) bool {
	for _, u := range b.used {
		if u.Key() == t.Key() {
			return true
		}
	}
	return false
}

func (b *binder) bind(id string) error {
	if _, done := b.refs[id]; done {
		return nil
	}
	parts := strings.Split(id, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return &BindError{Identifier: id, Reason: "malformed identifier"}
		}
	}

	var table *models.RankedTable
	column := parts[len(parts)-1]
	switch len(parts) {
	case 1:
		candidates := b.slice.TablesWithColumn(column)
		if len(candidates) == 0 {
			return &BindError{Identifier: id, Reason: "no table in the schema has this column"}
		}
		table = candidates[0]
		for _, c := range candidates {
			if b.inUse(c) {
				table = c
				break
			}
		}
	case 2, 3:
		schema := ""
		if len(parts) == 3 {
			schema = parts[0]
		}
		t, ok := b.slice.Table(schema, parts[len(parts)-2])
		if !ok {
			return &BindError{Identifier: id, Reason: "unknown table"}
		}
		if _, ok := t.Column(column); !ok {
			return &BindError{Identifier: id, Reason: "unknown column"}
		}
		table = t
	default:
		return &BindError{Identifier: id, Reason: "too many name parts"}
	}

	col, _ := table.Column(column)
	b.refs[id] = models.ColumnRef{Table: tableRef(table), Column: col.ColumnName}
	b.use(table)
	return nil
}

// plan joins every used table to the first one along foreign keys whose
// columns are part of the slice, adding bridge tables where needed.
func (b *binder) plan() (*models.SourcePlan, error) {
	plan := &models.SourcePlan{Base: tableRef(b.used[0]), Refs: b.refs}
	joined := []*models.RankedTable{b.used[0]}

	for _, target := range b.used[1:] {
		if containsTable(joined, target) {
			continue
		}
		path := b.shortestPath(joined, target)
		if path == nil {
			return nil, &BindError{
				Reason: fmt.Sprintf("no foreign key path connects %s to %s",
					target.DisplayName(), b.used[0].DisplayName()),
			}
		}
		for _, hop := range path {
			plan.Joins = append(plan.Joins, hop)
			t, _ := b.slice.Table(hop.Table.Schema, hop.Table.Name)
			joined = append(joined, t)
		}
	}
	return plan, nil
}

// shortestPath runs a breadth-first search from the joined set to target and
// returns the join steps in order.
func (b *binder) shortestPath(joined []*models.RankedTable, target *models.RankedTable) []models.JoinStep {
	type visit struct {
		prev int
		step models.JoinStep
	}
	tables := b.slice.Tables
	index := make(map[string]int, len(tables))
	for i := range tables {
		index[tables[i].Key()] = i
	}

	seen := make(map[int]visit)
	var queue []int
	for _, j := range joined {
		i := index[j.Key()]
		seen[i] = visit{prev: -1}
		queue = append(queue, i)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range tables {
			if _, ok := seen[next]; ok {
				continue
			}
			on, ok := joinColumns(b.slice, &tables[cur], &tables[next])
			if !ok {
				continue
			}
			seen[next] = visit{prev: cur, step: models.JoinStep{Table: tableRef(&tables[next]), On: on}}
			if tables[next].Key() == target.Key() {
				var path []models.JoinStep
				for at := next; seen[at].prev != -1; at = seen[at].prev {
					path = append([]models.JoinStep{seen[at].step}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// joinColumns returns the equalities joining to onto from when a foreign key
// connects them and every key column is part of the slice.
func joinColumns(slice *models.RankedSlice, from, to *models.RankedTable) ([]models.JoinColumns, bool) {
	fk, ownedByFrom, ok := slice.JoinBetween(from, to)
	if !ok {
		return nil, false
	}
	fromCols, toCols := fk.RefColumns, fk.Columns
	if ownedByFrom {
		fromCols, toCols = fk.Columns, fk.RefColumns
	}

	on := make([]models.JoinColumns, 0, len(fromCols))
	for i := range fromCols {
		left, ok := from.Column(fromCols[i])
		if !ok {
			return nil, false
		}
		right, ok := to.Column(toCols[i])
		if !ok {
			return nil, false
		}
		on = append(on, models.JoinColumns{
			Left:  models.ColumnRef{Table: tableRef(from), Column: left.ColumnName},
			Right: models.ColumnRef{Table: tableRef(to), Column: right.ColumnName},
		})
	}
	return on, true
}

func containsTable(list []*models.RankedTable, t *models.RankedTable) bool {
	for _, l := range list {
		if l.Key() == t.Key() {
			return true
		}
	}
	return false
}
