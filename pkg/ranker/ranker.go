// Package ranker selects the part of a schema snapshot that is relevant to a
// question and fits the prompt budget.
package ranker

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// Ranking strategies.
const (
	StrategyLexical   = "lexical"
	StrategyEmbedding = "embedding"
)

const scoreEpsilon = 1e-9

// TableScore is the relevance of one table and of its columns. Column keys
// are lower-case names.
type TableScore struct {
	Key     string
	Score   float64
	Columns map[string]float64
}

// Scorer rates every table of a snapshot against a question. Results are in
// snapshot order. Both strategies produce the same shape.
type Scorer interface {
	Score(ctx context.Context, question string, snapshot *models.SchemaSnapshot) ([]TableScore, error)
}

// NewScorer builds the configured strategy. The embedding strategy reads
// vectors from store and scores lexically while no matching index exists.
func NewScorer(cfg config.RankerConfig, embedder llm.LLMClient, embeddingModel string, store *IndexStore, logger *zap.Logger) (Scorer, error) {
	lexical := NewLexicalScorer()
	switch cfg.Strategy {
	case StrategyLexical, "":
		return lexical, nil
	case StrategyEmbedding:
		service := NewEmbeddingService(embedder, embeddingModel, store)
		return NewEmbeddingScorer(service, lexical, logger), nil
	}
	return nil, fmt.Errorf("unknown ranker strategy %q", cfg.Strategy)
}

// Ranker turns scores into a budget-bounded RankedSlice.
type Ranker struct {
	scorer Scorer
	topN   int
	budget int
	logger *zap.Logger
}

// New creates a Ranker. cfg.BudgetChars is used when Rank is given no budget.
func New(scorer Scorer, cfg config.RankerConfig, logger *zap.Logger) *Ranker {
	return &Ranker{
		scorer: scorer,
		topN:   cfg.TopN,
		budget: cfg.BudgetChars,
		logger: logger.Named("ranker"),
	}
}

type candidate struct {
	table *models.SchemaTable
	score TableScore
	order float64 // score, or row estimate in fallback mode
}

// Rank selects tables greedily by score until topN tables are chosen or the
// budget is spent. Equal scores prefer tables joined by a foreign key to the
// tables already chosen, then the table name. Tables that score zero are only
// considered when connected to the selection. If nothing scores, the largest
// tables by row estimate are returned and the slice is marked as a fallback.
//
// Tables that do not fit whole are trimmed to their key columns plus their
// best scoring columns; tables whose key columns alone do not fit are skipped.
func (r *Ranker) Rank(ctx context.Context, question string, snapshot *models.SchemaSnapshot, budget int) (*models.RankedSlice, error) {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return nil, apperrors.New(apperrors.KindEmptySchema, "the schema has no tables")
	}
	if budget <= 0 {
		budget = r.budget
	}

	scores, err := r.scorer.Score(ctx, question, snapshot)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.KindCanceled, "request canceled", ctx.Err())
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "schema ranking failed", err)
	}

	fallback := true
	for _, s := range scores {
		if s.Score > scoreEpsilon {
			fallback = false
			break
		}
	}

	remaining := make([]candidate, len(snapshot.Tables))
	for i := range snapshot.Tables {
		c := candidate{table: &snapshot.Tables[i], score: scores[i], order: scores[i].Score}
		if fallback {
			c.order = float64(snapshot.Tables[i].RowEstimate)
		}
		remaining[i] = c
	}

	slice := &models.RankedSlice{
		SnapshotVersion: snapshot.Version,
		Budget:          budget,
		Fallback:        fallback,
	}
	left := budget
	connected := make(map[string]bool)

	for len(remaining) > 0 && (r.topN <= 0 || len(slice.Tables) < r.topN) {
		best := -1
		for i, c := range remaining {
			if !fallback && c.order <= scoreEpsilon && !connected[c.table.Key()] {
				continue
			}
			if best < 0 || better(c, remaining[best], connected) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		c := remaining[best]
		remaining = slices.Delete(remaining, best, best+1)

		rt, ok := fit(c, left)
		if !ok {
			r.logger.Debug("Table does not fit schema budget",
				zap.String("table", c.table.Key()),
				zap.Int("remaining", left))
			continue
		}
		slice.Tables = append(slice.Tables, rt)
		left -= rt.Size()
		for _, n := range snapshot.Neighbors(c.table.Key()) {
			connected[n] = true
		}
	}

	if len(slice.Tables) == 0 {
		return nil, apperrors.New(apperrors.KindEmptySchema, "no table fits the schema budget")
	}

	r.logger.Debug("Ranked schema",
		zap.String("snapshot_version", snapshot.Version),
		zap.Int("tables", len(slice.Tables)),
		zap.Int("size", slice.Size()),
		zap.Bool("fallback", fallback))
	return slice, nil
}

func better(a, b candidate, connected map[string]bool) bool {
	if d := a.order - b.order; d > scoreEpsilon || d < -scoreEpsilon {
		return d > 0
	}
	ac, bc := connected[a.table.Key()], connected[b.table.Key()]
	if ac != bc {
		return ac
	}
	return a.table.Key() < b.table.Key()
}

// fit renders c within budget, dropping low-scoring non-key columns first.
// Column order always follows the catalog.
func fit(c candidate, budget int) (models.RankedTable, bool) {
	t := c.table
	full := rankedTable(c, func(models.SchemaColumn) bool { return true })
	if full.Size() <= budget {
		return full, true
	}

	keep := make(map[string]bool)
	var optional []models.SchemaColumn
	for _, col := range t.Columns {
		if isKeyColumn(t, col.ColumnName) {
			keep[strings.ToLower(col.ColumnName)] = true
		} else {
			optional = append(optional, col)
		}
	}
	slices.SortStableFunc(optional, func(a, b models.SchemaColumn) int {
		sa, sb := c.score.Columns[strings.ToLower(a.ColumnName)], c.score.Columns[strings.ToLower(b.ColumnName)]
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return a.OrdinalPosition - b.OrdinalPosition
	})

	include := func(col models.SchemaColumn) bool { return keep[strings.ToLower(col.ColumnName)] }
	trimmed := rankedTable(c, include)
	if len(keep) > 0 && trimmed.Size() > budget {
		return models.RankedTable{}, false
	}
	for _, col := range optional {
		name := strings.ToLower(col.ColumnName)
		keep[name] = true
		next := rankedTable(c, include)
		if next.Size() > budget {
			delete(keep, name)
			continue
		}
		trimmed = next
	}
	if len(trimmed.Columns) == 0 {
		return models.RankedTable{}, false
	}
	return trimmed, true
}

func rankedTable(c candidate, include func(models.SchemaColumn) bool) models.RankedTable {
	t := c.table
	rt := models.RankedTable{
		SchemaName:  t.SchemaName,
		TableName:   t.TableName,
		Description: t.Description,
		RowEstimate: t.RowEstimate,
		RowSecurity: t.RowSecurity,
		Policies:    t.Policies,
		PrimaryKey:  t.PrimaryKey,
		ForeignKeys: t.ForeignKeys,
		Score:       c.score.Score,
	}
	for _, col := range t.Columns {
		if !include(col) {
			continue
		}
		rt.Columns = append(rt.Columns, models.RankedColumn{
			ColumnName:  col.ColumnName,
			DataType:    col.DataType,
			IsNullable:  col.IsNullable,
			Description: col.Description,
			Score:       c.score.Columns[strings.ToLower(col.ColumnName)],
		})
	}
	return rt
}

func isKeyColumn(t *models.SchemaTable, column string) bool {
	if t.IsPrimaryKey(column) {
		return true
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if strings.EqualFold(c, column) {
				return true
			}
		}
	}
	return false
}
