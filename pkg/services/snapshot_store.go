package services

import (
	"sync/atomic"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// SnapshotStore holds the active schema snapshot. Readers always see one
// complete snapshot; Swap replaces it atomically.
type SnapshotStore struct {
	current atomic.Pointer[models.SchemaSnapshot]
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Load returns the active snapshot, or nil before the first Swap.
func (s *SnapshotStore) Load() *models.SchemaSnapshot {
	return s.current.Load()
}

// Swap publishes snapshot and returns the one it replaced.
func (s *SnapshotStore) Swap(snapshot *models.SchemaSnapshot) *models.SchemaSnapshot {
	return s.current.Swap(snapshot)
}
