package ranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// EmbeddingIndex holds one precomputed vector per table of a snapshot.
type EmbeddingIndex struct {
	SnapshotVersion string               `json:"snapshot_version"`
	Model           string               `json:"model"`
	BuiltAt         time.Time            `json:"built_at"`
	Vectors         map[string][]float32 `json:"vectors"` // keyed by schema.table
}

// IndexStore publishes the active embedding index. Readers always see a
// complete index; Swap replaces it in one step.
type IndexStore struct {
	current atomic.Pointer[EmbeddingIndex]
}

// NewIndexStore creates an empty store.
func NewIndexStore() *IndexStore {
	return &IndexStore{}
}

// Load returns the active index, or nil when none has been published.
func (s *IndexStore) Load() *EmbeddingIndex {
	return s.current.Load()
}

// Swap publishes idx and returns the index it replaced.
func (s *IndexStore) Swap(idx *EmbeddingIndex) *EmbeddingIndex {
	return s.current.Swap(idx)
}

// LoadFile reads an index written by SaveIndex and publishes it.
func (s *IndexStore) LoadFile(path string) (*EmbeddingIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embedding index: %w", err)
	}
	var idx EmbeddingIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse embedding index %s: %w", path, err)
	}
	if idx.SnapshotVersion == "" || len(idx.Vectors) == 0 {
		return nil, fmt.Errorf("embedding index %s is empty", path)
	}
	s.Swap(&idx)
	return &idx, nil
}

// SaveIndex writes idx to path through a temporary file so readers never
// see a partial index.
func SaveIndex(path string, idx *EmbeddingIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode embedding index: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.json")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write embedding index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close embedding index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish embedding index: %w", err)
	}
	return nil
}

// BuildEmbeddingIndex embeds the document of every table of snapshot with at
// most workers concurrent calls. Any failed table fails the build.
func BuildEmbeddingIndex(ctx context.Context, snapshot *models.SchemaSnapshot, embedder llm.LLMClient, model string, workers int, logger *zap.Logger) (*EmbeddingIndex, error) {
	if len(snapshot.Tables) == 0 {
		return nil, errors.New("snapshot has no tables to index")
	}

	items := make([]llm.WorkItem[[]float32], len(snapshot.Tables))
	for i := range snapshot.Tables {
		t := &snapshot.Tables[i]
		doc := tableDocument(t)
		items[i] = llm.WorkItem[[]float32]{
			ID: t.Key(),
			Execute: func(ctx context.Context) ([]float32, error) {
				return embedder.CreateEmbedding(ctx, doc, model)
			},
		}
	}

	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: workers}, logger)
	results := llm.Process(ctx, pool, items, func(completed, total int) {
		logger.Debug("Embedding tables", zap.Int("completed", completed), zap.Int("total", total))
	})

	idx := &EmbeddingIndex{
		SnapshotVersion: snapshot.Version,
		Model:           model,
		BuiltAt:         time.Now().UTC(),
		Vectors:         make(map[string][]float32, len(results)),
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("embed %s: %w", r.ID, r.Err))
			continue
		}
		idx.Vectors[r.ID] = r.Result
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	logger.Info("Built embedding index",
		zap.String("snapshot_version", idx.SnapshotVersion),
		zap.String("model", model),
		zap.Int("tables", len(idx.Vectors)))
	return idx, nil
}
