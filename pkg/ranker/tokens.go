package ranker

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

var stopWords = map[string]bool{
	"a": true, "about": true, "all": true, "an": true, "and": true, "any": true, "are": true,
	"as": true, "at": true, "be": true, "by": true, "can": true, "do": true, "does": true,
	"each": true, "for": true, "from": true, "get": true, "give": true, "had": true, "has": true,
	"have": true, "how": true, "i": true, "in": true, "is": true, "it": true, "list": true,
	"many": true, "me": true, "much": true, "my": true, "of": true, "on": true, "or": true,
	"our": true, "per": true, "show": true, "than": true, "that": true, "the": true, "their": true,
	"there": true, "these": true, "this": true, "those": true, "to": true, "us": true, "was": true,
	"we": true, "were": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "whose": true, "why": true, "with": true, "you": true,
}

// tokenize splits text into lower-case singular words. Underscores and
// punctuation separate words, so "customer_id" yields "customer" and "id".
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, inflection.Singular(f))
	}
	return out
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// tableDocument is the text a table is scored on: its name, description,
// column names and column descriptions.
func tableDocument(t *models.SchemaTable) string {
	var b strings.Builder
	b.WriteString(t.SchemaName)
	b.WriteByte(' ')
	b.WriteString(t.TableName)
	if t.Description != "" {
		b.WriteString(". ")
		b.WriteString(t.Description)
	}
	b.WriteString(". Columns:")
	for _, c := range t.Columns {
		b.WriteByte(' ')
		b.WriteString(c.ColumnName)
		if c.Description != "" {
			b.WriteString(" (")
			b.WriteString(c.Description)
			b.WriteByte(')')
		}
	}
	return b.String()
}

// columnScores rates each column by the share of its name tokens found in
// the question. Keys are lower-case column names.
func columnScores(question map[string]bool, t *models.SchemaTable) map[string]float64 {
	scores := make(map[string]float64, len(t.Columns))
	for _, c := range t.Columns {
		tokens := tokenize(c.ColumnName)
		if len(tokens) == 0 {
			continue
		}
		hits := 0
		for _, tok := range tokens {
			if question[tok] {
				hits++
			}
		}
		if hits > 0 {
			scores[strings.ToLower(c.ColumnName)] = float64(hits) / float64(len(tokens))
		}
	}
	return scores
}

// columnOverlapBoost adds 0.1 for each column whose name is fully present in
// the question, capped at 0.5.
func columnOverlapBoost(colScores map[string]float64) float64 {
	boost := 0.0
	for _, s := range colScores {
		if s >= 1 {
			boost += 0.1
		}
	}
	return min(boost, 0.5)
}
