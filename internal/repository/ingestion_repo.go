package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/database"
	"github.com/fyerfyer/doc-ingest-worker/internal/models"
	"gorm.io/gorm"
)

// ingestionRepository 基于gorm的摄取状态仓储
type ingestionRepository struct {
	db *gorm.DB
}

// NewIngestionRepository 使用全局数据库连接创建仓储
func NewIngestionRepository() IngestionRepository {
	return &ingestionRepository{db: database.MustDB()}
}

// NewIngestionRepositoryWithDB 使用指定的数据库连接创建仓储
func NewIngestionRepositoryWithDB(db *gorm.DB) IngestionRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &ingestionRepository{db: db}
}

// Begin 开始一次处理
func (r *ingestionRepository) Begin(ctx context.Context, rec *models.Ingestion) (int, error) {
	if rec.FileID == "" {
		return 0, errors.New("file ID cannot be empty")
	}

	var previous int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Ingestion
		err := tx.Where("file_id = ?", rec.FileID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec.Status = models.IngestionProcessing
			rec.Attempts = 1
			return tx.Create(rec).Error
		}
		if err != nil {
			return err
		}

		previous = existing.ChunkCount
		return tx.Model(&existing).Updates(map[string]interface{}{
			"file_name":   rec.FileName,
			"file_type":   rec.FileType,
			"source":      rec.Source,
			"status":      models.IngestionProcessing,
			"stage":       rec.Stage,
			"error_kind":  "",
			"error":       "",
			"attempts":    gorm.Expr("attempts + 1"),
			"started_at":  time.Now(),
			"finished_at": nil,
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("begin ingestion %s: %w", rec.FileID, err)
	}
	return previous, nil
}

// UpdateStage 记录当前阶段
func (r *ingestionRepository) UpdateStage(ctx context.Context, fileID, stage string) error {
	return r.update(ctx, fileID, map[string]interface{}{"stage": stage})
}

// Complete 标记完成
func (r *ingestionRepository) Complete(ctx context.Context, fileID string, chunks int) error {
	now := time.Now()
	return r.update(ctx, fileID, map[string]interface{}{
		"status":      models.IngestionCompleted,
		"stage":       "DONE",
		"chunk_count": chunks,
		"finished_at": &now,
	})
}

// Fail 标记失败
func (r *ingestionRepository) Fail(ctx context.Context, fileID, stage, kind, message string) error {
	now := time.Now()
	return r.update(ctx, fileID, map[string]interface{}{
		"status":      models.IngestionFailed,
		"stage":       stage,
		"error_kind":  kind,
		"error":       message,
		"finished_at": &now,
	})
}

// SetTaskID 关联异步任务ID，记录不存在时创建一条待处理记录
func (r *ingestionRepository) SetTaskID(ctx context.Context, fileID, taskID string) error {
	err := r.update(ctx, fileID, map[string]interface{}{"task_id": taskID})
	if errors.Is(err, models.ErrIngestionNotFound) {
		return r.db.WithContext(ctx).Create(&models.Ingestion{
			FileID: fileID,
			Status: models.IngestionProcessing,
			Stage:  "QUEUED",
			TaskID: taskID,
		}).Error
	}
	return err
}

func (r *ingestionRepository) update(ctx context.Context, fileID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&models.Ingestion{}).Where("file_id = ?", fileID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrIngestionNotFound, fileID)
	}
	return nil
}

// Get 根据文件ID获取记录
func (r *ingestionRepository) Get(ctx context.Context, fileID string) (*models.Ingestion, error) {
	var rec models.Ingestion
	err := r.db.WithContext(ctx).Where("file_id = ?", fileID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrIngestionNotFound, fileID)
		}
		return nil, err
	}
	return &rec, nil
}

// List 分页列出记录，按更新时间倒序
func (r *ingestionRepository) List(ctx context.Context, offset, limit int, status models.IngestionStatus) ([]*models.Ingestion, int64, error) {
	var (
		recs  []*models.Ingestion
		total int64
	)

	query := r.db.WithContext(ctx).Model(&models.Ingestion{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}
	err := query.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}
