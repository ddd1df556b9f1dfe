package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/doc-ingest-worker/api/handler"
	"github.com/fyerfyer/doc-ingest-worker/api/model"
	"github.com/fyerfyer/doc-ingest-worker/internal/database"
	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/fyerfyer/doc-ingest-worker/internal/download"
	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
	"github.com/fyerfyer/doc-ingest-worker/internal/repository"
	"github.com/fyerfyer/doc-ingest-worker/internal/services"
	"github.com/fyerfyer/doc-ingest-worker/internal/vectordb"
	"github.com/fyerfyer/doc-ingest-worker/pkg/storage"
	"github.com/fyerfyer/doc-ingest-worker/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 测试环境
type testEnv struct {
	Router    *gin.Engine
	Sources   *storage.LocalStorage
	VectorDB  *vectordb.MemoryRepository
	Embedding *embedding.MockClient
}

type envOptions struct {
	withQueue bool
	embedErr  error
}

func setupTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sources, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	scratch, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	repo, err := vectordb.NewRepository(vectordb.Config{Type: "memory", Dimension: 3})
	require.NoError(t, err)

	mockEmbedding := embedding.NewMockClient(t)
	mockEmbedding.On("Name").Maybe().Return("mock-embedding")
	if opts.embedErr != nil {
		mockEmbedding.On("Embed", mock.Anything, mock.Anything).Maybe().Return(nil, opts.embedErr)
	} else {
		mockEmbedding.On("Embed", mock.Anything, mock.Anything).Maybe().Return(&embedding.VectorBundle{
			Dense:   []float32{0.1, 0.2, 0.3},
			Sparse:  embedding.SparseVector{Indices: []uint32{1}, Values: []float32{0.5}},
			ColBERT: [][]float32{{0.1, 0.2}},
		}, nil)
	}

	splitter, err := document.NewTextSplitter(document.DefaultSplitterConfig())
	require.NoError(t, err)

	dbCfg := database.DefaultConfig()
	dbCfg.DSN = filepath.Join(t.TempDir(), "api.db")
	db, err := database.Open(dbCfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	status := services.NewIngestionStatusManager(repository.NewIngestionRepositoryWithDB(db), logger)

	svc := services.NewIngestService(
		download.NewObjectDownloader(sources),
		scratch,
		document.NewLoader(nil),
		splitter,
		embedding.NewBatchEmbedder(mockEmbedding, 1),
		repo,
		services.WithStatusTracker(status),
		services.WithLogger(logger),
	)

	handlers := Handlers{
		Process:    handler.NewProcessHandler(svc),
		Ingestions: handler.NewIngestionHandler(nil, status),
	}
	if opts.withQueue {
		mr := miniredis.RunT(t)
		qcfg := taskqueue.DefaultConfig()
		qcfg.RedisAddr = mr.Addr()
		qcfg.RetryDelay = time.Second
		q, err := taskqueue.NewRedisQueue(qcfg, logger)
		require.NoError(t, err)
		t.Cleanup(func() { q.Close() })

		handlers.Ingestions = handler.NewIngestionHandler(services.NewIngestDispatcher(q, status, logger), status)
		handlers.Tasks = handler.NewTaskHandler(q)
	}

	return &testEnv{
		Router:    SetupRouter(handlers),
		Sources:   sources,
		VectorDB:  repo.(*vectordb.MemoryRepository),
		Embedding: mockEmbedding,
	}
}

// putSource 在源存储中放一个文件，返回其对象ID
func (e *testEnv) putSource(t *testing.T, name, content string) string {
	t.Helper()
	info, err := e.Sources.Save(context.Background(), strings.NewReader(content), name)
	require.NoError(t, err)
	return info.ID
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) model.Response {
	t.Helper()
	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestProcessEndpoint(t *testing.T) {
	env := setupTestEnv(t, envOptions{})
	source := env.putSource(t, "notes.txt", "hello world")

	w := env.do(t, http.MethodPost, "/process", services.IngestRequest{
		ID: "42", Source: source, FileName: "notes.txt", FileType: ".txt",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"SUCCESS","indexed_chunks":1,"file_id":"42"}`, w.Body.String())
	assert.Equal(t, []string{"42-0"}, env.VectorDB.IDs())

	t.Run("record is queryable", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/ingestions/42", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "completed", data["status"])
		assert.Equal(t, "DONE", data["stage"])
		assert.Equal(t, float64(1), data["chunks"])
	})

	t.Run("upstream field names", func(t *testing.T) {
		body := `{"Id":"43","Source":"` + source + `","FileName":"notes.txt","FileType":".txt"}`
		w := env.do(t, http.MethodPost, "/process", body)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestProcessEndpointFailures(t *testing.T) {
	t.Run("missing source object", func(t *testing.T) {
		env := setupTestEnv(t, envOptions{})
		w := env.do(t, http.MethodPost, "/process", services.IngestRequest{
			ID: "7", Source: "missing.txt", FileName: "a.txt", FileType: ".txt",
		})
		require.Equal(t, http.StatusInternalServerError, w.Code)

		var resp model.ProcessErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, strings.HasPrefix(resp.Detail, "Processing failed for ID 7"))
		assert.Equal(t, "7", resp.FileID)
		assert.Equal(t, string(services.StageDownloading), resp.Stage)
		assert.Equal(t, string(services.KindDownload), resp.Kind)

		w = env.do(t, http.MethodGet, "/api/ingestions/7", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]interface{})
		assert.Equal(t, "failed", data["status"])
		assert.Equal(t, "DOWNLOAD", data["error_kind"])
	})

	t.Run("embedding failure", func(t *testing.T) {
		env := setupTestEnv(t, envOptions{embedErr: embedding.NewEmbeddingError(embedding.ErrCodeMalformedResponse, "bad sparse")})
		source := env.putSource(t, "a.txt", "text")

		w := env.do(t, http.MethodPost, "/process", services.IngestRequest{
			ID: "8", Source: source, FileName: "a.txt", FileType: ".txt",
		})
		require.Equal(t, http.StatusInternalServerError, w.Code)
		var resp model.ProcessErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, string(services.KindEmbedding), resp.Kind)
		assert.Equal(t, string(services.StageEmbedding), resp.Stage)
		assert.Zero(t, env.VectorDB.UpsertCalls())
	})

	t.Run("invalid file type", func(t *testing.T) {
		env := setupTestEnv(t, envOptions{})
		w := env.do(t, http.MethodPost, "/process", services.IngestRequest{
			ID: "9", Source: "x", FileName: "a.txt", FileType: "txt",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp model.ProcessErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, string(services.KindInvalidRequest), resp.Kind)
		env.Embedding.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		env := setupTestEnv(t, envOptions{})
		w := env.do(t, http.MethodPost, "/process", `{"Id":`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, http.StatusBadRequest, decodeResponse(t, w).Code)
	})
}

func TestIngestionList(t *testing.T) {
	env := setupTestEnv(t, envOptions{})
	source := env.putSource(t, "a.txt", "some text")

	env.do(t, http.MethodPost, "/process", services.IngestRequest{ID: "ok", Source: source, FileName: "a.txt", FileType: ".txt"})
	env.do(t, http.MethodPost, "/process", services.IngestRequest{ID: "bad", Source: "gone.txt", FileName: "b.txt", FileType: ".txt"})

	w := env.do(t, http.MethodGet, "/api/ingestions?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data model.IngestionListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Total)
	require.Len(t, body.Data.Ingestions, 1)
	assert.Equal(t, "bad", body.Data.Ingestions[0].FileID)

	w = env.do(t, http.MethodGet, "/api/ingestions?page=1&page_size=5", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.Total)
	assert.Equal(t, 5, body.Data.PageSize)

	w = env.do(t, http.MethodGet, "/api/ingestions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/ingestions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAsyncIngestion(t *testing.T) {
	t.Run("queue disabled", func(t *testing.T) {
		env := setupTestEnv(t, envOptions{})
		w := env.do(t, http.MethodPost, "/api/ingestions", services.IngestRequest{ID: "1", Source: "s", FileName: "a.txt", FileType: ".txt"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = env.do(t, http.MethodGet, "/api/tasks/abc", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	env := setupTestEnv(t, envOptions{withQueue: true})

	w := env.do(t, http.MethodPost, "/api/ingestions", services.IngestRequest{ID: "42", Source: "s", FileName: "a.pdf", FileType: ".pdf"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var enq struct {
		Data model.EnqueueResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &enq))
	require.NotEmpty(t, enq.Data.TaskID)
	assert.Equal(t, "42", enq.Data.FileID)
	assert.Equal(t, "pending", enq.Data.Status)

	w = env.do(t, http.MethodGet, "/api/tasks/"+enq.Data.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var task struct {
		Data taskqueue.TaskInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, taskqueue.TaskIngestFile, task.Data.Type)
	assert.Equal(t, taskqueue.StatusPending, task.Data.Status)

	w = env.do(t, http.MethodGet, "/api/ingestions/42", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, enq.Data.TaskID, data["task_id"])

	w = env.do(t, http.MethodGet, "/api/ingestions/42/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decodeResponse(t, w).Data.(map[string]interface{})["tasks"].([]interface{})
	assert.Len(t, tasks, 1)

	w = env.do(t, http.MethodGet, "/api/tasks/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/ingestions", services.IngestRequest{ID: "43", Source: "s", FileName: "a.pdf", FileType: "pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTraceIDPropagation(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"Id":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
	var resp model.ProcessErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-123", resp.TraceID)
}
