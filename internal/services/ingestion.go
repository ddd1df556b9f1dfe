package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/fyerfyer/doc-ingest-worker/internal/download"
	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
	"github.com/fyerfyer/doc-ingest-worker/internal/vectordb"
	"github.com/fyerfyer/doc-ingest-worker/pkg/storage"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// StatusSuccess 成功结果的状态值
const StatusSuccess = "SUCCESS"

// IngestRequest 上游分发的摄取请求
type IngestRequest struct {
	ID       string `json:"Id" validate:"required"`
	Source   string `json:"Source" validate:"required"`
	FileName string `json:"FileName" validate:"required"`
	FileType string `json:"FileType" validate:"required,startswith=."`
}

// IngestResult 摄取成功的结果
type IngestResult struct {
	Status        string `json:"status"`
	IndexedChunks int    `json:"indexed_chunks"`
	FileID        string `json:"file_id"`
}

// ScratchStore 请求级临时文件存储
// Save返回的Path必须是本地可读路径
type ScratchStore interface {
	Save(ctx context.Context, reader io.Reader, filename string) (storage.FileInfo, error)
	Delete(ctx context.Context, id string) error
}

// StatusTracker 接收阶段变化，返回的错误只记录日志
type StatusTracker interface {
	// Started 返回该文件上一次成功写入的分段数
	Started(ctx context.Context, req IngestRequest) (int, error)
	StageChanged(ctx context.Context, fileID string, stage Stage) error
	Completed(ctx context.Context, fileID string, chunks int) error
	Failed(ctx context.Context, ierr *IngestError) error
}

// IngestService 摄取流程编排
// 单个请求各阶段严格顺序执行，不做内部重试
type IngestService struct {
	downloader download.Downloader
	scratch    ScratchStore
	loader     *document.Loader
	splitter   *document.TextSplitter
	embedder   *embedding.BatchEmbedder
	vectors    vectordb.Repository
	tracker    StatusTracker
	validate   *validator.Validate
	pruneStale bool
	logger     *logrus.Logger
	now        func() time.Time
}

// IngestOption 摄取服务配置选项
type IngestOption func(*IngestService)

// WithStatusTracker 设置状态记录
func WithStatusTracker(tracker StatusTracker) IngestOption {
	return func(s *IngestService) {
		s.tracker = tracker
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) IngestOption {
	return func(s *IngestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPruneStale 重新摄取后删除多出来的旧分段
// 需要StatusTracker提供上一次的分段数
func WithPruneStale(enabled bool) IngestOption {
	return func(s *IngestService) {
		s.pruneStale = enabled
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) IngestOption {
	return func(s *IngestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewIngestService 创建摄取服务
func NewIngestService(
	downloader download.Downloader,
	scratch ScratchStore,
	loader *document.Loader,
	splitter *document.TextSplitter,
	embedder *embedding.BatchEmbedder,
	vectors vectordb.Repository,
	opts ...IngestOption,
) *IngestService {
	s := &IngestService{
		downloader: downloader,
		scratch:    scratch,
		loader:     loader,
		splitter:   splitter,
		embedder:   embedder,
		vectors:    vectors,
		validate:   validator.New(),
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process 处理一个摄取请求
// DOWNLOADING → EXTRACTING → SPLITTING → EMBEDDING → UPSERTING → DONE
// 任一阶段失败返回*IngestError，临时文件在所有路径上都会删除
func (s *IngestService) Process(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &IngestError{
			FileID: req.ID,
			Kind:   KindInvalidRequest,
			Err:    fmt.Errorf("%w: %v", ErrInvalidRequest, err),
		}
	}

	run := &ingestRun{
		svc:     s,
		req:     req,
		started: s.now(),
		log: s.logger.WithFields(logrus.Fields{
			"file_id":   req.ID,
			"file_name": req.FileName,
			"file_type": req.FileType,
		}),
	}

	previous := 0
	if s.tracker != nil {
		n, err := s.tracker.Started(ctx, req)
		if err != nil {
			run.log.WithError(err).Warn("Failed to record ingestion start")
		}
		previous = n
	}

	count, err := run.execute(ctx, previous)
	if err != nil {
		ierr := run.failure(ctx, err)
		if s.tracker != nil {
			if terr := s.tracker.Failed(context.WithoutCancel(ctx), ierr); terr != nil {
				run.log.WithError(terr).Warn("Failed to record ingestion failure")
			}
		}
		run.log.WithFields(logrus.Fields{
			"stage":   ierr.Stage,
			"kind":    ierr.Kind,
			"elapsed": s.now().Sub(run.started).String(),
		}).WithError(ierr.Err).Error("Ingestion failed")
		return nil, ierr
	}

	run.stage = StageDone
	if s.tracker != nil {
		if terr := s.tracker.Completed(ctx, req.ID, count); terr != nil {
			run.log.WithError(terr).Warn("Failed to record ingestion completion")
		}
	}
	run.log.WithFields(logrus.Fields{
		"stage":   StageDone,
		"chunks":  count,
		"elapsed": s.now().Sub(run.started).String(),
	}).Info("Ingestion completed")

	return &IngestResult{Status: StatusSuccess, IndexedChunks: count, FileID: req.ID}, nil
}

// ingestRun 单个请求的执行状态
type ingestRun struct {
	svc     *IngestService
	req     IngestRequest
	stage   Stage
	started time.Time
	log     *logrus.Entry
}

// enter 在阶段边界检查取消并记录新阶段
func (r *ingestRun) enter(ctx context.Context, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.stage = stage
	r.log.WithField("stage", stage).Debug("Entering stage")
	if r.svc.tracker != nil {
		if err := r.svc.tracker.StageChanged(ctx, r.req.ID, stage); err != nil {
			r.log.WithError(err).Warn("Failed to record stage change")
		}
	}
	return nil
}

func (r *ingestRun) execute(ctx context.Context, previous int) (int, error) {
	if err := r.enter(ctx, StageDownloading); err != nil {
		return 0, err
	}
	file, err := r.download(ctx)
	if err != nil {
		return 0, err
	}
	defer r.release(ctx, file)

	if err := r.enter(ctx, StageExtracting); err != nil {
		return 0, err
	}
	units, err := r.svc.loader.Extract(ctx, file.Path, r.req.FileType,
		document.WithFileName(r.req.FileName),
		document.WithSource(r.req.Source),
	)
	if err != nil {
		return 0, err
	}

	if err := r.enter(ctx, StageSplitting); err != nil {
		return 0, err
	}
	segments := r.svc.splitter.SplitDocuments(units)
	r.log.WithFields(logrus.Fields{
		"units":    len(units),
		"segments": len(segments),
	}).Info("Document split")

	if err := r.enter(ctx, StageEmbedding); err != nil {
		return 0, err
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Content
	}
	bundles, err := r.svc.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return 0, err
	}

	if err := r.enter(ctx, StageUpserting); err != nil {
		return 0, err
	}
	points := buildPoints(r.req.ID, segments, bundles, r.svc.now())
	count, err := r.svc.vectors.Upsert(ctx, points)
	if err != nil {
		return 0, err
	}

	if r.svc.pruneStale && previous > len(points) {
		if err := r.prune(ctx, len(points), previous); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// buildPoints 组装待写入的点
// 多个抽取单元时Index按单元重新计数，点ID使用全局序号
func buildPoints(fileID string, segments []document.Segment, bundles []*embedding.VectorBundle, indexedAt time.Time) []vectordb.Point {
	points := make([]vectordb.Point, len(segments))
	for i, seg := range segments {
		points[i] = vectordb.BuildPoint(fileID, i, seg, *bundles[i], indexedAt)
	}
	return points
}

// download 把下载内容写入请求独占的临时文件
func (r *ingestRun) download(ctx context.Context) (storage.FileInfo, error) {
	body, err := r.svc.downloader.Fetch(ctx, r.req.Source)
	if err != nil {
		return storage.FileInfo{}, err
	}
	defer body.Close()

	info, err := r.svc.scratch.Save(ctx, body, r.req.ID+document.NormalizeExt(r.req.FileType))
	if err != nil {
		return storage.FileInfo{}, &download.Error{Source: r.req.Source, Err: err}
	}
	r.log.WithFields(logrus.Fields{
		"bytes": info.Size,
		"path":  info.Path,
	}).Debug("Downloaded to scratch file")
	return info, nil
}

// release 删除临时文件，请求已取消时仍然执行
func (r *ingestRun) release(ctx context.Context, file storage.FileInfo) {
	if err := r.svc.scratch.Delete(context.WithoutCancel(ctx), file.ID); err != nil {
		r.log.WithError(err).WithField("path", file.Path).Error("Failed to remove scratch file")
	}
}

// prune 删除 [from, to) 范围内上一次写入的点
func (r *ingestRun) prune(ctx context.Context, from, to int) error {
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, vectordb.PointID(r.req.ID, i))
	}
	if err := r.svc.vectors.Delete(ctx, ids); err != nil {
		return err
	}
	r.log.WithField("pruned", len(ids)).Info("Removed stale points")
	return nil
}

// failure 把阶段错误包装为IngestError
func (r *ingestRun) failure(ctx context.Context, err error) *IngestError {
	kind := classify(r.stage, err)
	if ctx.Err() != nil {
		kind = KindCanceled
	}
	return &IngestError{FileID: r.req.ID, Stage: r.stage, Kind: kind, Err: err}
}
