package services

import (
	"context"
	"fmt"

	"github.com/fyerfyer/doc-ingest-worker/internal/models"
	"github.com/fyerfyer/doc-ingest-worker/internal/repository"
	"github.com/sirupsen/logrus"
)

// IngestionStatusManager 摄取状态管理器
// 把流程阶段写入摄取记录，实现StatusTracker
type IngestionStatusManager struct {
	repo   repository.IngestionRepository
	logger *logrus.Logger
}

// NewIngestionStatusManager 创建状态管理器
func NewIngestionStatusManager(repo repository.IngestionRepository, logger *logrus.Logger) *IngestionStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &IngestionStatusManager{repo: repo, logger: logger}
}

// Started 开始处理，返回上一次成功写入的分段数
func (m *IngestionStatusManager) Started(ctx context.Context, req IngestRequest) (int, error) {
	m.logger.WithFields(logrus.Fields{
		"file_id":   req.ID,
		"file_name": req.FileName,
	}).Debug("Marking ingestion as processing")

	return m.repo.Begin(ctx, &models.Ingestion{
		FileID:   req.ID,
		FileName: req.FileName,
		FileType: req.FileType,
		Source:   req.Source,
		Stage:    string(StageDownloading),
	})
}

// StageChanged 记录当前阶段
func (m *IngestionStatusManager) StageChanged(ctx context.Context, fileID string, stage Stage) error {
	return m.repo.UpdateStage(ctx, fileID, string(stage))
}

// Completed 标记完成
func (m *IngestionStatusManager) Completed(ctx context.Context, fileID string, chunks int) error {
	m.logger.WithFields(logrus.Fields{
		"file_id": fileID,
		"chunks":  chunks,
	}).Debug("Marking ingestion as completed")
	return m.repo.Complete(ctx, fileID, chunks)
}

// Failed 标记失败
func (m *IngestionStatusManager) Failed(ctx context.Context, ierr *IngestError) error {
	return m.repo.Fail(ctx, ierr.FileID, string(ierr.Stage), string(ierr.Kind), ierr.Error())
}

// MarkQueued 记录异步任务ID
func (m *IngestionStatusManager) MarkQueued(ctx context.Context, fileID, taskID string) error {
	return m.repo.SetTaskID(ctx, fileID, taskID)
}

// Get 获取摄取记录
func (m *IngestionStatusManager) Get(ctx context.Context, fileID string) (*models.Ingestion, error) {
	return m.repo.Get(ctx, fileID)
}

// List 分页列出摄取记录
func (m *IngestionStatusManager) List(ctx context.Context, page, pageSize int, status models.IngestionStatus) ([]*models.Ingestion, int64, error) {
	if status != "" && !models.ValidStatus(status) {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrInvalidIngestionStatus, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return m.repo.List(ctx, (page-1)*pageSize, pageSize, status)
}
