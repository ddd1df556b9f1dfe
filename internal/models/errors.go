package models

import "errors"

var (
	// ErrIngestionNotFound 摄取记录不存在
	ErrIngestionNotFound = errors.New("ingestion not found")

	// ErrInvalidIngestionStatus 无效的摄取状态
	ErrInvalidIngestionStatus = errors.New("invalid ingestion status")
)

// ValidStatus 检查状态值
func ValidStatus(s IngestionStatus) bool {
	switch s {
	case IngestionProcessing, IngestionCompleted, IngestionFailed:
		return true
	}
	return false
}
