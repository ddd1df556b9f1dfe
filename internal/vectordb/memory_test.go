package vectordb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) *MemoryRepository {
	t.Helper()
	repo, err := NewRepository(Config{Type: "memory", Dimension: 3})
	require.NoError(t, err)
	mem, ok := repo.(*MemoryRepository)
	require.True(t, ok)
	return mem
}

func filePoints(fileID string, n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			ID:      PointID(fileID, i),
			Vectors: testBundle(),
			Payload: map[string]interface{}{PayloadFileID: fileID},
		}
	}
	return points
}

func TestMemoryUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newMemory(t)

	n, err := repo.Upsert(ctx, filePoints("42", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"42-0", "42-1", "42-2"}, repo.IDs())
	assert.Equal(t, 1, repo.UpsertCalls())

	t.Run("same ids overwrite", func(t *testing.T) {
		n, err := repo.Upsert(ctx, filePoints("42", 3))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("empty batch does not reach storage", func(t *testing.T) {
		calls := repo.UpsertCalls()
		n, err := repo.Upsert(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, calls, repo.UpsertCalls())
	})
}

func TestMemoryUpsertRejectsWholeBatch(t *testing.T) {
	repo := newMemory(t)
	points := filePoints("7", 3)
	points[2].Vectors.Dense = []float32{1, 2}

	_, err := repo.Upsert(context.Background(), points)
	require.Error(t, err)

	var storageErr *StorageError
	assert.True(t, errors.As(err, &storageErr))
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.Empty(t, repo.IDs())
	assert.Zero(t, repo.UpsertCalls())
}

func TestMemoryUpsertCanceled(t *testing.T) {
	repo := newMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Upsert(ctx, filePoints("1", 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := newMemory(t)
	_, err := repo.Upsert(ctx, filePoints("a", 3))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, filePoints("b", 2))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, []string{"a-2", "missing"}))
	assert.Equal(t, []string{"a-0", "a-1", "b-0", "b-1"}, repo.IDs())

	require.NoError(t, repo.DeleteByFileID(ctx, "a"))
	assert.Equal(t, []string{"b-0", "b-1"}, repo.IDs())

	_, err = repo.Get("a-0")
	assert.ErrorIs(t, err, ErrPointNotFound)

	p, err := repo.Get("b-1")
	require.NoError(t, err)
	assert.Equal(t, "b", p.FileID())
	assert.NoError(t, repo.Close())
}

func TestNewRepositoryFallsBackToMemory(t *testing.T) {
	repo, err := NewRepository(Config{Type: "unknown"})
	require.NoError(t, err)
	_, ok := repo.(*MemoryRepository)
	assert.True(t, ok)
}
