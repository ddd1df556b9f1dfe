package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/fyerfyer/doc-ingest-worker/internal/download"
	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
	"github.com/fyerfyer/doc-ingest-worker/internal/vectordb"
)

// ErrInvalidRequest 请求字段缺失或格式错误
var ErrInvalidRequest = errors.New("invalid ingest request")

// Stage 处理阶段
type Stage string

const (
	StageDownloading Stage = "DOWNLOADING"
	StageExtracting  Stage = "EXTRACTING"
	StageSplitting   Stage = "SPLITTING"
	StageEmbedding   Stage = "EMBEDDING"
	StageUpserting   Stage = "UPSERTING"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
)

// Kind 失败类型，保留给观测使用，重试方只需判断是否失败
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindUnsupportedFormat Kind = "UNSUPPORTED_FORMAT"
	KindConfiguration     Kind = "CONFIGURATION"
	KindExtraction        Kind = "EXTRACTION"
	KindDownload          Kind = "DOWNLOAD"
	KindEmbedding         Kind = "EMBEDDING"
	KindStorage           Kind = "STORAGE"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindCanceled          Kind = "CANCELED"
)

// Permanent 重新执行也不会成功的失败类型
func (k Kind) Permanent() bool {
	switch k {
	case KindNotFound, KindUnsupportedFormat, KindConfiguration, KindInvalidRequest:
		return true
	}
	return false
}

// IngestError 摄取失败，是流程对外唯一的失败类型
type IngestError struct {
	FileID string
	Stage  Stage // 失败时所处阶段，请求校验失败时为空
	Kind   Kind
	Err    error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("Processing failed for ID %s: %v", e.FileID, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// AsIngestError 从错误链中取出IngestError
func AsIngestError(err error) (*IngestError, bool) {
	var ierr *IngestError
	if errors.As(err, &ierr) {
		return ierr, true
	}
	return nil, false
}

// classify 按错误类型判断Kind，无法识别时按阶段归类
func classify(stage Stage, err error) Kind {
	var (
		extractErr *document.ExtractionError
		dlErr      *download.Error
		embedErr   embedding.EmbeddingError
		storeErr   *vectordb.StorageError
	)

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, document.ErrNotFound):
		return KindNotFound
	case errors.Is(err, document.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, document.ErrInvalidSplitConfig):
		return KindConfiguration
	case errors.As(err, &extractErr):
		return KindExtraction
	case errors.As(err, &dlErr):
		return KindDownload
	case errors.As(err, &embedErr):
		return KindEmbedding
	case errors.As(err, &storeErr):
		return KindStorage
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	switch stage {
	case StageDownloading:
		return KindDownload
	case StageExtracting:
		return KindExtraction
	case StageSplitting:
		return KindConfiguration
	case StageEmbedding:
		return KindEmbedding
	default:
		return KindStorage
	}
}
