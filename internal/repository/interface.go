package repository

import (
	"context"

	"github.com/fyerfyer/doc-ingest-worker/internal/models"
)

// IngestionRepository 摄取状态仓储接口
type IngestionRepository interface {
	// Begin 开始一次处理，不存在时创建记录，存在时重置状态并累加次数
	// 返回上一次成功写入的分段数
	Begin(ctx context.Context, rec *models.Ingestion) (int, error)

	// UpdateStage 记录当前阶段
	UpdateStage(ctx context.Context, fileID, stage string) error

	// Complete 标记完成并记录分段数
	Complete(ctx context.Context, fileID string, chunks int) error

	// Fail 标记失败，保留上一次成功的分段数
	Fail(ctx context.Context, fileID, stage, kind, message string) error

	// SetTaskID 关联异步任务ID
	SetTaskID(ctx context.Context, fileID, taskID string) error

	// Get 根据文件ID获取记录
	Get(ctx context.Context, fileID string) (*models.Ingestion, error)

	// List 分页列出记录，status为空时不过滤
	List(ctx context.Context, offset, limit int, status models.IngestionStatus) ([]*models.Ingestion, int64, error)
}
