package ranker

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// LexicalScorer scores tables by TF-IDF cosine similarity between the
// question and each table's document. The model is built once per snapshot
// version and reused until the version changes.
type LexicalScorer struct {
	model atomic.Pointer[lexicalModel]
}

type lexicalModel struct {
	version string
	idf     map[string]float64
	docs    []map[string]float64 // unit TF-IDF vector per table, snapshot order
}

// NewLexicalScorer creates a LexicalScorer.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

// Score implements Scorer.
func (s *LexicalScorer) Score(ctx context.Context, question string, snapshot *models.SchemaSnapshot) ([]TableScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := s.modelFor(snapshot)

	qTokens := tokenize(question)
	qSet := tokenSet(qTokens)
	qVec := m.vector(qTokens)

	out := make([]TableScore, len(snapshot.Tables))
	for i := range snapshot.Tables {
		t := &snapshot.Tables[i]
		out[i] = TableScore{
			Key:     t.Key(),
			Score:   dot(qVec, m.docs[i]),
			Columns: columnScores(qSet, t),
		}
	}
	return out, nil
}

func (s *LexicalScorer) modelFor(snapshot *models.SchemaSnapshot) *lexicalModel {
	if m := s.model.Load(); m != nil && m.version == snapshot.Version && len(m.docs) == len(snapshot.Tables) {
		return m
	}
	m := buildLexicalModel(snapshot)
	s.model.Store(m)
	return m
}

func buildLexicalModel(snapshot *models.SchemaSnapshot) *lexicalModel {
	n := len(snapshot.Tables)
	docTokens := make([][]string, n)
	df := make(map[string]int)
	for i := range snapshot.Tables {
		docTokens[i] = tokenize(tableDocument(&snapshot.Tables[i]))
		for tok := range tokenSet(docTokens[i]) {
			df[tok]++
		}
	}

	m := &lexicalModel{
		version: snapshot.Version,
		idf:     make(map[string]float64, len(df)),
		docs:    make([]map[string]float64, n),
	}
	for tok, d := range df {
		m.idf[tok] = math.Log(float64(1+n)/float64(1+d)) + 1
	}
	for i, tokens := range docTokens {
		m.docs[i] = m.vector(tokens)
	}
	return m
}

// vector returns the unit TF-IDF vector of tokens. Tokens outside the
// vocabulary are ignored.
func (m *lexicalModel) vector(tokens []string) map[string]float64 {
	vec := make(map[string]float64)
	for _, tok := range tokens {
		if idf, ok := m.idf[tok]; ok {
			vec[tok] += idf
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for k := range vec {
		vec[k] /= norm
	}
	return vec
}

func dot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var s float64
	for k, v := range a {
		s += v * b[k]
	}
	return s
}
