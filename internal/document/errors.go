package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 文件不存在
	ErrNotFound = errors.New("file not found")

	// ErrUnsupportedFormat 不支持的文件格式
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrInvalidSplitConfig 分块参数无效
	ErrInvalidSplitConfig = errors.New("invalid split configuration")

	// ErrEntryTooLarge 压缩包条目超过大小上限
	ErrEntryTooLarge = errors.New("archive entry too large")

	// ErrConverterPanic 转换器内部panic
	ErrConverterPanic = errors.New("converter panic")
)

// SplitConfigError 分块参数错误
type SplitConfigError struct {
	ChunkSize    int
	ChunkOverlap int
	Reason       string
}

func (e *SplitConfigError) Error() string {
	return fmt.Sprintf("invalid split configuration (chunk_size=%d, chunk_overlap=%d): %s",
		e.ChunkSize, e.ChunkOverlap, e.Reason)
}

// Unwrap 使errors.Is(err, ErrInvalidSplitConfig)成立
func (e *SplitConfigError) Unwrap() error {
	return ErrInvalidSplitConfig
}

// ExtractionError 转换器失败时返回的错误，保留原始原因
type ExtractionError struct {
	Path string
	Ext  string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s (%s): %v", e.Path, e.Ext, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
