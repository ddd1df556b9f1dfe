package vectordb

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant 记录请求的Qdrant客户端替身
type fakeQdrant struct {
	exists    bool
	upsertErr error
	status    qdrant.UpdateStatus

	created []*qdrant.CreateCollection
	upserts []*qdrant.UpsertPoints
	deletes []*qdrant.DeletePoints
	count   uint64
	closed  bool
}

func (f *fakeQdrant) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.exists, nil
}

func (f *fakeQdrant) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	f.exists = true
	return nil
}

func (f *fakeQdrant) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{Status: f.status}, nil
}

func (f *fakeQdrant) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{Status: f.status}, nil
}

func (f *fakeQdrant) Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
	return f.count, nil
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func newFakeRepo(ensure bool) (*QdrantRepository, *fakeQdrant) {
	fake := &fakeQdrant{status: qdrant.UpdateStatus_Completed}
	repo := newQdrantRepository(fake, Config{Collection: "docs", EnsureCollection: ensure})
	return repo, fake
}

func TestQdrantUpsert(t *testing.T) {
	repo, fake := newFakeRepo(false)

	n, err := repo.Upsert(context.Background(), filePoints("42", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, fake.upserts, 1)
	req := fake.upserts[0]
	assert.Equal(t, "docs", req.GetCollectionName())
	assert.True(t, req.GetWait())
	require.Len(t, req.GetPoints(), 3)

	for i, ps := range req.GetPoints() {
		id := PointID("42", i)
		assert.Equal(t, PointUUID(id), ps.GetId().GetUuid())
		assert.Equal(t, id, ps.GetPayload()[PayloadPointID].GetStringValue())
		assert.Equal(t, "42", ps.GetPayload()[PayloadFileID].GetStringValue())

		named := ps.GetVectors().GetVectors().GetVectors()
		assert.Contains(t, named, VectorDense)
		assert.Contains(t, named, VectorSparse)
		assert.Contains(t, named, VectorColBERT)
	}
	assert.Empty(t, fake.created)
}

func TestQdrantUpsertEmptyBatch(t *testing.T) {
	repo, fake := newFakeRepo(true)
	n, err := repo.Upsert(context.Background(), []Point{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fake.upserts)
	assert.Empty(t, fake.created)
}

func TestQdrantUpsertErrors(t *testing.T) {
	t.Run("invalid point rejects batch", func(t *testing.T) {
		repo, fake := newFakeRepo(false)
		points := filePoints("1", 2)
		points[1].Vectors.ColBERT = nil

		_, err := repo.Upsert(context.Background(), points)
		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "upsert", storageErr.Op)
		assert.Empty(t, fake.upserts)
	})

	t.Run("client failure", func(t *testing.T) {
		repo, fake := newFakeRepo(false)
		boom := errors.New("connection refused")
		fake.upsertErr = boom

		_, err := repo.Upsert(context.Background(), filePoints("1", 1))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("not completed", func(t *testing.T) {
		repo, fake := newFakeRepo(false)
		fake.status = qdrant.UpdateStatus_Acknowledged

		_, err := repo.Upsert(context.Background(), filePoints("1", 1))
		assert.Error(t, err)
	})
}

func TestQdrantEnsureCollection(t *testing.T) {
	repo, fake := newFakeRepo(true)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, filePoints("a", 1))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, filePoints("b", 1))
	require.NoError(t, err)

	require.Len(t, fake.created, 1)
	created := fake.created[0]
	assert.Equal(t, "docs", created.GetCollectionName())

	params := created.GetVectorsConfig().GetParamsMap().GetMap()
	require.Contains(t, params, VectorDense)
	assert.Equal(t, uint64(3), params[VectorDense].GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params[VectorDense].GetDistance())
	require.Contains(t, params, VectorColBERT)
	assert.Equal(t, uint64(2), params[VectorColBERT].GetSize())
	assert.Equal(t, qdrant.MultiVectorComparator_MaxSim, params[VectorColBERT].GetMultivectorConfig().GetComparator())
	assert.Contains(t, created.GetSparseVectorsConfig().GetMap(), VectorSparse)
}

func TestQdrantDelete(t *testing.T) {
	repo, fake := newFakeRepo(false)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, nil))
	assert.Empty(t, fake.deletes)

	require.NoError(t, repo.Delete(ctx, []string{"42-3", "42-4"}))
	require.Len(t, fake.deletes, 1)
	ids := fake.deletes[0].GetPoints().GetPoints().GetIds()
	require.Len(t, ids, 2)
	assert.Equal(t, PointUUID("42-3"), ids[0].GetUuid())

	require.NoError(t, repo.DeleteByFileID(ctx, "42"))
	require.Len(t, fake.deletes, 2)
	filter := fake.deletes[1].GetPoints().GetFilter()
	require.NotNil(t, filter)
	require.Len(t, filter.GetMust(), 1)
	assert.Equal(t, PayloadFileID, filter.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "42", filter.GetMust()[0].GetField().GetMatch().GetKeyword())
}

func TestQdrantCountAndClose(t *testing.T) {
	repo, fake := newFakeRepo(false)
	fake.count = 12

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	require.NoError(t, repo.Close())
	assert.True(t, fake.closed)
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		raw     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{"http://localhost:6334", "localhost", 6334, false, false},
		{"https://qdrant.example.com", "qdrant.example.com", 6334, true, false},
		{"http://10.0.0.5:7000", "10.0.0.5", 7000, false, false},
		{"", "localhost", 6334, false, false},
		{"://bad", "", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cfg, err := parseQdrantURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.Host)
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.tls, cfg.UseTLS)
		})
	}
}

func TestNewQdrantRepositoryRequiresCollection(t *testing.T) {
	_, err := NewQdrantRepository(Config{URL: "http://localhost:6334"})
	assert.Error(t, err)
}
