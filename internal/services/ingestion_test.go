package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/fyerfyer/doc-ingest-worker/internal/download"
	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
	"github.com/fyerfyer/doc-ingest-worker/internal/vectordb"
	"github.com/fyerfyer/doc-ingest-worker/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const embedOK = `{"dense":[0.1,0.2,0.3],"sparse":{"3":0.5,"11":0.25},"colbert":[[0.1,0.2],[0.3,0.4]]}`

// embedMalformed sparse键不是整数
const embedMalformed = `{"dense":[0.1,0.2,0.3],"sparse":{"token":0.5},"colbert":[[0.1,0.2]]}`

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// memDownloader 按source返回内存中的文件内容
type memDownloader struct {
	mu      sync.Mutex
	files   map[string]string
	calls   []string
	onFetch func()
}

func (d *memDownloader) Fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	d.mu.Lock()
	d.calls = append(d.calls, source)
	content, ok := d.files[source]
	hook := d.onFetch
	d.mu.Unlock()

	if !ok {
		return nil, &download.Error{Source: source, StatusCode: http.StatusNotFound, Err: errors.New("no such file")}
	}
	if hook != nil {
		hook()
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

// trackingScratch 记录临时文件的创建和删除
type trackingScratch struct {
	*storage.LocalStorage
	mu      sync.Mutex
	saved   []storage.FileInfo
	deleted []string
}

func (s *trackingScratch) Save(ctx context.Context, r io.Reader, name string) (storage.FileInfo, error) {
	info, err := s.LocalStorage.Save(ctx, r, name)
	if err == nil {
		s.mu.Lock()
		s.saved = append(s.saved, info)
		s.mu.Unlock()
	}
	return info, err
}

func (s *trackingScratch) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, id)
	s.mu.Unlock()
	return s.LocalStorage.Delete(ctx, id)
}

// assertClean 所有创建过的临时文件都已删除
func (s *trackingScratch) assertClean(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, info := range s.saved {
		assert.Contains(t, s.deleted, info.ID)
		_, err := os.Stat(info.Path)
		assert.True(t, os.IsNotExist(err), "临时文件未删除: %s", info.Path)
	}
	entries, err := os.ReadDir(s.BasePath())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type harness struct {
	svc        *IngestService
	vectors    *vectordb.MemoryRepository
	scratch    *trackingScratch
	downloader *memDownloader
	embedCalls *int32
}

type harnessOptions struct {
	failAt    int32 // 第n次向量化请求返回非法响应，0表示不失败
	dimension int
	opts      []IngestOption
}

func newHarness(t *testing.T, ho harnessOptions) *harness {
	t.Helper()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if ho.failAt > 0 && n == ho.failAt {
			w.Write([]byte(embedMalformed))
			return
		}
		w.Write([]byte(embedOK))
	}))
	t.Cleanup(server.Close)

	client, err := embedding.NewHTTPClient(embedding.WithBaseURL(server.URL), embedding.WithTimeout(5*time.Second))
	require.NoError(t, err)

	local, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	scratch := &trackingScratch{LocalStorage: local}

	repo, err := vectordb.NewMemoryRepository(vectordb.Config{Dimension: ho.dimension})
	require.NoError(t, err)

	splitter, err := document.NewTextSplitter(document.DefaultSplitterConfig())
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	downloader := &memDownloader{files: map[string]string{}}
	opts := append([]IngestOption{WithLogger(logger), WithClock(func() time.Time { return fixedNow })}, ho.opts...)
	svc := NewIngestService(
		downloader,
		scratch,
		document.NewLoader(nil),
		splitter,
		embedding.NewBatchEmbedder(client, 1),
		repo,
		opts...,
	)

	return &harness{
		svc:        svc,
		vectors:    repo.(*vectordb.MemoryRepository),
		scratch:    scratch,
		downloader: downloader,
		embedCalls: &calls,
	}
}

func txtRequest(id, source string) IngestRequest {
	return IngestRequest{ID: id, Source: source, FileName: "notes.txt", FileType: ".txt"}
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.downloader.files["/srv/42.txt"] = strings.Repeat("x", 2500)

	result, err := h.svc.Process(context.Background(), txtRequest("42", "/srv/42.txt"))
	require.NoError(t, err)
	assert.Equal(t, &IngestResult{Status: StatusSuccess, IndexedChunks: 3, FileID: "42"}, result)

	assert.Equal(t, []string{"42-0", "42-1", "42-2"}, h.vectors.IDs())
	assert.Equal(t, 1, h.vectors.UpsertCalls())
	assert.Equal(t, int32(3), atomic.LoadInt32(h.embedCalls))
	assert.Equal(t, []string{"/srv/42.txt"}, h.downloader.calls)

	p, err := h.vectors.Get("42-0")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt\n\n"+strings.Repeat("x", 1000), p.Payload[vectordb.PayloadPageContent])
	assert.Equal(t, "notes.txt", p.Payload[document.MetaFileName])
	assert.Equal(t, "/srv/42.txt", p.Payload[document.MetaSource])
	assert.Equal(t, ".txt", p.Payload[document.MetaFileType])
	assert.Equal(t, "42", p.Payload[vectordb.PayloadFileID])
	assert.Equal(t, fixedNow.Format(time.RFC3339), p.Payload[vectordb.PayloadIndexedAt])
	assert.Equal(t, []uint32{3, 11}, p.Vectors.Sparse.Indices)
	assert.Len(t, p.Vectors.ColBERT, 2)

	h.scratch.assertClean(t)

	t.Run("reprocessing overwrites the same points", func(t *testing.T) {
		_, err := h.svc.Process(context.Background(), txtRequest("42", "/srv/42.txt"))
		require.NoError(t, err)
		count, err := h.vectors.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		h.scratch.assertClean(t)
	})
}

func TestProcessEmbeddingFailureSkipsUpsert(t *testing.T) {
	h := newHarness(t, harnessOptions{failAt: 2})
	h.downloader.files["/srv/42.txt"] = strings.Repeat("x", 2500)

	result, err := h.svc.Process(context.Background(), txtRequest("42", "/srv/42.txt"))
	require.Error(t, err)
	assert.Nil(t, result)

	ierr, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, StageEmbedding, ierr.Stage)
	assert.Equal(t, KindEmbedding, ierr.Kind)
	assert.False(t, ierr.Kind.Permanent())
	assert.Contains(t, err.Error(), "Processing failed for ID 42")

	var embErr embedding.EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, embedding.ErrCodeMalformedResponse, embErr.Code)

	assert.Zero(t, h.vectors.UpsertCalls(), "向量化失败时不应写入")
	assert.Empty(t, h.vectors.IDs())
	assert.Equal(t, int32(2), atomic.LoadInt32(h.embedCalls), "第一次失败后不再调用")
	h.scratch.assertClean(t)
}

func TestProcessFailureKinds(t *testing.T) {
	tests := []struct {
		name      string
		req       IngestRequest
		content   *string
		dimension int
		stage     Stage
		kind      Kind
		permanent bool
	}{
		{
			name:  "download failure",
			req:   txtRequest("1", "/srv/missing.txt"),
			stage: StageDownloading,
			kind:  KindDownload,
		},
		{
			name:      "unsupported format",
			req:       IngestRequest{ID: "2", Source: "/srv/a.xyz", FileName: "a.xyz", FileType: ".xyz"},
			content:   strPtr("irrelevant"),
			stage:     StageExtracting,
			kind:      KindUnsupportedFormat,
			permanent: true,
		},
		{
			name:    "extraction failure",
			req:     txtRequest("3", "/srv/binary.txt"),
			content: strPtr("\xff\xfe\x00binary"),
			stage:   StageExtracting,
			kind:    KindExtraction,
		},
		{
			name:      "storage failure",
			req:       txtRequest("4", "/srv/ok.txt"),
			content:   strPtr("short text"),
			dimension: 8,
			stage:     StageUpserting,
			kind:      KindStorage,
		},
		{
			name:      "invalid request",
			req:       IngestRequest{ID: "5", Source: "/srv/a.txt", FileName: "a.txt", FileType: "txt"},
			kind:      KindInvalidRequest,
			permanent: true,
		},
		{
			name:      "missing id",
			req:       IngestRequest{Source: "/srv/a.txt", FileName: "a.txt", FileType: ".txt"},
			kind:      KindInvalidRequest,
			permanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{dimension: tt.dimension})
			if tt.content != nil {
				h.downloader.files[tt.req.Source] = *tt.content
			}

			_, err := h.svc.Process(context.Background(), tt.req)
			ierr, ok := AsIngestError(err)
			require.True(t, ok, "expected IngestError, got %v", err)
			assert.Equal(t, tt.stage, ierr.Stage)
			assert.Equal(t, tt.kind, ierr.Kind)
			assert.Equal(t, tt.permanent, ierr.Kind.Permanent())
			assert.Equal(t, tt.req.ID, ierr.FileID)
			assert.True(t, strings.HasPrefix(err.Error(), "Processing failed for ID "+tt.req.ID+":"))
			h.scratch.assertClean(t)
		})
	}
}

func TestProcessCorruptPDF(t *testing.T) {
	tracker := &staticTracker{}
	h := newHarness(t, harnessOptions{opts: []IngestOption{WithStatusTracker(tracker)}})
	h.downloader.files["/srv/broken.pdf"] = "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF"
	req := IngestRequest{ID: "p1", Source: "/srv/broken.pdf", FileName: "broken.pdf", FileType: ".pdf"}

	var err error
	require.NotPanics(t, func() {
		_, err = h.svc.Process(context.Background(), req)
	})

	ierr, ok := AsIngestError(err)
	require.True(t, ok, "expected IngestError, got %v", err)
	assert.Equal(t, StageExtracting, ierr.Stage)
	assert.Equal(t, KindExtraction, ierr.Kind)
	assert.True(t, strings.HasPrefix(err.Error(), "Processing failed for ID p1:"))

	require.NotNil(t, tracker.failed)
	assert.Equal(t, KindExtraction, tracker.failed.Kind)
	assert.Zero(t, atomic.LoadInt32(h.embedCalls))
	assert.Zero(t, h.vectors.UpsertCalls())
	h.scratch.assertClean(t)
}

func TestProcessCanceledBetweenStages(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.downloader.files["/srv/a.txt"] = "some text"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.downloader.onFetch = cancel

	_, err := h.svc.Process(ctx, txtRequest("9", "/srv/a.txt"))
	ierr, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, KindCanceled, ierr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(h.embedCalls))
	h.scratch.assertClean(t)
}

func TestProcessEmptyDocument(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.downloader.files["/srv/empty.txt"] = ""

	result, err := h.svc.Process(context.Background(), txtRequest("e", "/srv/empty.txt"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.IndexedChunks)
	assert.Zero(t, h.vectors.UpsertCalls(), "空批次不应访问存储")
	assert.Zero(t, atomic.LoadInt32(h.embedCalls))
	h.scratch.assertClean(t)
}

// staticTracker 返回固定的上一次分段数
type staticTracker struct {
	mu       sync.Mutex
	previous int
	err      error
	stages   []Stage
	failed   *IngestError
	done     int
}

func (s *staticTracker) Started(ctx context.Context, req IngestRequest) (int, error) {
	return s.previous, s.err
}

func (s *staticTracker) StageChanged(ctx context.Context, fileID string, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
	return s.err
}

func (s *staticTracker) Completed(ctx context.Context, fileID string, chunks int) error {
	s.done = chunks
	return s.err
}

func (s *staticTracker) Failed(ctx context.Context, ierr *IngestError) error {
	s.failed = ierr
	return s.err
}

func TestProcessReportsStages(t *testing.T) {
	tracker := &staticTracker{}
	h := newHarness(t, harnessOptions{opts: []IngestOption{WithStatusTracker(tracker)}})
	h.downloader.files["/srv/a.txt"] = "hello world"

	_, err := h.svc.Process(context.Background(), txtRequest("s", "/srv/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageDownloading, StageExtracting, StageSplitting, StageEmbedding, StageUpserting}, tracker.stages)
	assert.Equal(t, 1, tracker.done)
	assert.Nil(t, tracker.failed)

	t.Run("tracker errors do not fail ingestion", func(t *testing.T) {
		failing := &staticTracker{err: errors.New("database is locked")}
		h := newHarness(t, harnessOptions{opts: []IngestOption{WithStatusTracker(failing)}})
		h.downloader.files["/srv/a.txt"] = "hello world"

		result, err := h.svc.Process(context.Background(), txtRequest("s", "/srv/a.txt"))
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)
	})

	t.Run("failure reported once", func(t *testing.T) {
		tracker := &staticTracker{}
		h := newHarness(t, harnessOptions{opts: []IngestOption{WithStatusTracker(tracker)}})

		_, err := h.svc.Process(context.Background(), txtRequest("f", "/srv/missing.txt"))
		require.Error(t, err)
		require.NotNil(t, tracker.failed)
		assert.Equal(t, KindDownload, tracker.failed.Kind)
		assert.Zero(t, tracker.done)
	})
}

func TestProcessPrunesStalePoints(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, prune bool) *harness {
		tracker := &staticTracker{}
		h := newHarness(t, harnessOptions{opts: []IngestOption{WithStatusTracker(tracker), WithPruneStale(prune)}})

		h.downloader.files["/srv/long.txt"] = strings.Repeat("z", 4500)
		first, err := h.svc.Process(ctx, txtRequest("42", "/srv/long.txt"))
		require.NoError(t, err)
		require.Greater(t, first.IndexedChunks, 3)

		tracker.previous = first.IndexedChunks
		h.downloader.files["/srv/short.txt"] = strings.Repeat("z", 2500)
		second, err := h.svc.Process(ctx, txtRequest("42", "/srv/short.txt"))
		require.NoError(t, err)
		require.Equal(t, 3, second.IndexedChunks)
		return h
	}

	t.Run("enabled", func(t *testing.T) {
		h := run(t, true)
		assert.Equal(t, []string{"42-0", "42-1", "42-2"}, h.vectors.IDs())
	})

	t.Run("disabled keeps old points", func(t *testing.T) {
		h := run(t, false)
		assert.Greater(t, len(h.vectors.IDs()), 3)
	})
}

func TestBuildPointsUsesGlobalOrdinal(t *testing.T) {
	splitter, err := document.NewTextSplitter(document.SplitterConfig{ChunkSize: 10, ChunkOverlap: 0})
	require.NoError(t, err)
	segments := splitter.SplitDocuments([]document.ExtractedUnit{
		{Text: "alpha", Metadata: document.Metadata{document.MetaFileName: "a"}},
		{Text: "beta", Metadata: document.Metadata{document.MetaFileName: "a"}},
	})
	require.Len(t, segments, 2)
	require.Equal(t, 0, segments[1].Index, "第二个单元重新计数")

	bundle := &embedding.VectorBundle{Dense: []float32{0.1}}
	points := buildPoints("42", segments, []*embedding.VectorBundle{bundle, bundle}, fixedNow)
	assert.Equal(t, "42-0", points[0].ID)
	assert.Equal(t, "42-1", points[1].ID)
}

func TestIngestResultJSON(t *testing.T) {
	data, err := json.Marshal(IngestResult{Status: StatusSuccess, IndexedChunks: 3, FileID: "42"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SUCCESS","indexed_chunks":3,"file_id":"42"}`, string(data))

	var req IngestRequest
	require.NoError(t, json.Unmarshal([]byte(`{"Id":"42","Source":"/srv/a.pdf","FileName":"a.pdf","FileType":".pdf"}`), &req))
	assert.Equal(t, IngestRequest{ID: "42", Source: "/srv/a.pdf", FileName: "a.pdf", FileType: ".pdf"}, req)
}

func strPtr(s string) *string { return &s }
