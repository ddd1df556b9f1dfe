package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestionStatus 摄取记录状态
type IngestionStatus string

const (
	// IngestionProcessing 处理中
	IngestionProcessing IngestionStatus = "processing"
	// IngestionCompleted 已写入向量库
	IngestionCompleted IngestionStatus = "completed"
	// IngestionFailed 某个阶段失败
	IngestionFailed IngestionStatus = "failed"
)

// Ingestion 一个文件最近一次摄取的状态
// 以文件ID为主键，重新摄取时覆盖
type Ingestion struct {
	FileID     string          `gorm:"primaryKey;size:128"` // 上游文件ID
	FileName   string          `gorm:"size:255"`            // 原始文件名
	FileType   string          `gorm:"size:16"`             // 带点的扩展名
	Source     string          `gorm:"type:text"`           // 服务端路径
	Status     IngestionStatus `gorm:"not null;index"`      // 当前状态
	Stage      string          `gorm:"size:20"`             // 最后进入的阶段
	ErrorKind  string          `gorm:"size:32"`             // 失败类型
	Error      string          `gorm:"type:text"`           // 错误信息
	ChunkCount int             `gorm:"not null;default:0"`  // 最近一次成功写入的分段数
	Attempts   int             `gorm:"not null;default:0"`  // 累计处理次数
	TaskID     string          `gorm:"size:64;index"`       // 异步任务ID
	Metadata   datatypes.JSON  `gorm:"type:json"`           // 附加信息
	StartedAt  time.Time       `gorm:"not null"`            // 最近一次开始时间
	FinishedAt *time.Time      `gorm:"index"`               // 最近一次结束时间
	CreatedAt  time.Time       `gorm:"not null"`
	UpdatedAt  time.Time       `gorm:"not null;index"`
}

// BeforeCreate 创建记录前设置时间
func (i *Ingestion) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if i.StartedAt.IsZero() {
		i.StartedAt = now
	}
	i.CreatedAt = now
	i.UpdatedAt = now
	return nil
}

// BeforeUpdate 更新记录前设置更新时间
func (i *Ingestion) BeforeUpdate(tx *gorm.DB) error {
	i.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Ingestion) TableName() string {
	return "ingestions"
}

// Elapsed 最近一次处理耗时，未结束返回0
func (i *Ingestion) Elapsed() time.Duration {
	if i.FinishedAt == nil {
		return 0
	}
	return i.FinishedAt.Sub(i.StartedAt)
}
