package ranker

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// ErrIndexUnavailable means no embedding index matches the snapshot.
var ErrIndexUnavailable = errors.New("embedding index unavailable for snapshot")

// ScoringService scores candidate tables (schema.table keys) against a
// question for one snapshot version.
type ScoringService interface {
	Score(ctx context.Context, question, snapshotVersion string, candidates []string) (map[string]float64, error)
}

// EmbeddingService scores by cosine similarity between the embedded question
// and precomputed table vectors.
type EmbeddingService struct {
	embedder llm.LLMClient
	model    string
	store    *IndexStore
}

// NewEmbeddingService creates an EmbeddingService reading vectors from store.
func NewEmbeddingService(embedder llm.LLMClient, model string, store *IndexStore) *EmbeddingService {
	return &EmbeddingService{embedder: embedder, model: model, store: store}
}

// Score implements ScoringService. Candidates missing from the index score 0.
func (s *EmbeddingService) Score(ctx context.Context, question, snapshotVersion string, candidates []string) (map[string]float64, error) {
	idx := s.store.Load()
	if idx == nil || idx.SnapshotVersion != snapshotVersion {
		return nil, ErrIndexUnavailable
	}
	q, err := s.embedder.CreateEmbedding(ctx, question, s.model)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(candidates))
	for _, key := range candidates {
		if vec, ok := idx.Vectors[key]; ok {
			scores[key] = cosine(q, vec)
		}
	}
	return scores, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

// EmbeddingScorer blends embedding similarity with a column overlap boost.
// When the service fails it scores lexically instead.
type EmbeddingScorer struct {
	service  ScoringService
	fallback *LexicalScorer
	logger   *zap.Logger
}

// NewEmbeddingScorer creates an EmbeddingScorer.
func NewEmbeddingScorer(service ScoringService, fallback *LexicalScorer, logger *zap.Logger) *EmbeddingScorer {
	return &EmbeddingScorer{service: service, fallback: fallback, logger: logger.Named("ranker")}
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, question string, snapshot *models.SchemaSnapshot) ([]TableScore, error) {
	keys := make([]string, len(snapshot.Tables))
	for i := range snapshot.Tables {
		keys[i] = snapshot.Tables[i].Key()
	}

	similarity, err := s.service.Score(ctx, question, snapshot.Version, keys)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Embedding scoring failed, using lexical scores",
			zap.String("snapshot_version", snapshot.Version),
			zap.Error(err))
		return s.fallback.Score(ctx, question, snapshot)
	}

	qSet := tokenSet(tokenize(question))
	out := make([]TableScore, len(snapshot.Tables))
	for i := range snapshot.Tables {
		t := &snapshot.Tables[i]
		cols := columnScores(qSet, t)
		out[i] = TableScore{
			Key:     keys[i],
			Score:   similarity[keys[i]] + columnOverlapBoost(cols),
			Columns: cols,
		}
	}
	return out, nil
}
