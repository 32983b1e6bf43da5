package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

type fakeSource struct {
	snapshot *models.SchemaSnapshot
	err      error
	calls    int
}

func (f *fakeSource) FetchSnapshot(context.Context) (*models.SchemaSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type memoryCache struct {
	snapshot *models.SchemaSnapshot
	getErr   error
	setErr   error
	sets     int
}

func (c *memoryCache) Get(context.Context) (*models.SchemaSnapshot, error) {
	return c.snapshot, c.getErr
}

func (c *memoryCache) Set(_ context.Context, s *models.SchemaSnapshot) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.snapshot = s
	return nil
}

func TestSnapshotStore_Swap(t *testing.T) {
	store := NewSnapshotStore()
	assert.Nil(t, store.Load())

	first := testhelpers.ShopSnapshot()
	assert.Nil(t, store.Swap(first))
	assert.Same(t, first, store.Load())

	second := models.NewSchemaSnapshot(testhelpers.ShopTables()[:1], testhelpers.FixedTime)
	assert.Same(t, first, store.Swap(second))
	assert.Same(t, second, store.Load())
}

func TestSchemaRefresher_Warm(t *testing.T) {
	cached := testhelpers.ShopSnapshot()

	tests := []struct {
		name        string
		cache       *memoryCache
		wantFetches int
	}{
		{name: "cache hit", cache: &memoryCache{snapshot: cached}, wantFetches: 0},
		{name: "cache miss", cache: &memoryCache{}, wantFetches: 1},
		{name: "cache error", cache: &memoryCache{getErr: errors.New("connection refused")}, wantFetches: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{snapshot: testhelpers.ShopSnapshot()}
			store := NewSnapshotStore()
			r := NewSchemaRefresher(source, tt.cache, store, 0, zaptest.NewLogger(t))

			require.NoError(t, r.Warm(context.Background()))
			assert.Equal(t, tt.wantFetches, source.calls)
			require.NotNil(t, store.Load())
			assert.Equal(t, cached.Version, store.Load().Version)
		})
	}
}

func TestSchemaRefresher_WarmWithoutCache(t *testing.T) {
	source := &fakeSource{snapshot: testhelpers.ShopSnapshot()}
	store := NewSnapshotStore()

	require.NoError(t, NewSchemaRefresher(source, nil, store, 0, zaptest.NewLogger(t)).Warm(context.Background()))
	assert.Equal(t, 1, source.calls)
	assert.NotNil(t, store.Load())
}

func TestSchemaRefresher_Refresh(t *testing.T) {
	t.Run("publishes and swaps", func(t *testing.T) {
		snapshot := testhelpers.ShopSnapshot()
		cache := &memoryCache{}
		store := NewSnapshotStore()
		r := NewSchemaRefresher(&fakeSource{snapshot: snapshot}, cache, store, 0, zaptest.NewLogger(t))

		require.NoError(t, r.Refresh(context.Background()))
		assert.Same(t, snapshot, store.Load())
		assert.Same(t, snapshot, cache.snapshot)
	})

	t.Run("cache failure is not fatal", func(t *testing.T) {
		snapshot := testhelpers.ShopSnapshot()
		store := NewSnapshotStore()
		r := NewSchemaRefresher(&fakeSource{snapshot: snapshot}, &memoryCache{setErr: errors.New("read only replica")}, store, 0, zaptest.NewLogger(t))

		require.NoError(t, r.Refresh(context.Background()))
		assert.Same(t, snapshot, store.Load())
	})

	t.Run("failure keeps active snapshot", func(t *testing.T) {
		active := testhelpers.ShopSnapshot()
		store := NewSnapshotStore()
		store.Swap(active)
		cache := &memoryCache{}
		r := NewSchemaRefresher(&fakeSource{err: errors.New("catalog query failed")}, cache, store, 0, zaptest.NewLogger(t))

		err := r.Refresh(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog query failed")
		assert.Same(t, active, store.Load())
		assert.Zero(t, cache.sets)
	})
}

func TestSchemaRefresher_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewSchemaRefresher(&fakeSource{snapshot: testhelpers.ShopSnapshot()}, nil, NewSnapshotStore(), 1, zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	<-done
}

func TestDecodeCachedSnapshot(t *testing.T) {
	snapshot := testhelpers.ShopSnapshot()
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)

	decoded, err := decodeCachedSnapshot(data)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, snapshot.Version, decoded.Version)
	_, ok := decoded.Table("sales", "invoices")
	assert.True(t, ok, "lookup index is rebuilt")

	t.Run("version mismatch is a miss", func(t *testing.T) {
		var fields map[string]any
		require.NoError(t, json.Unmarshal(data, &fields))
		fields["version"] = "stale"
		data, err := json.Marshal(fields)
		require.NoError(t, err)

		decoded, err := decodeCachedSnapshot(data)
		require.NoError(t, err)
		assert.Nil(t, decoded)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := decodeCachedSnapshot([]byte("{not json"))
		assert.Error(t, err)
	})
}
