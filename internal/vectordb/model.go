package vectordb

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
)

// 常用错误定义
var (
	ErrPointNotFound    = errors.New("point not found")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid point ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
)

// 向量字段名，与集合的命名向量配置一致
const (
	VectorDense   = "dense"
	VectorSparse  = "sparse"
	VectorColBERT = "colbert"
)

// 系统写入的载荷字段
const (
	PayloadPageContent = "page_content"
	PayloadIndexedAt   = "indexed_at"
	PayloadFileID      = "file_id"
	PayloadPointID     = "point_id"
)

// Point 写入向量库的单元
type Point struct {
	ID      string                 // 确定性标识 "{file_id}-{index}"
	Vectors embedding.VectorBundle // 三种向量
	Payload map[string]interface{} // 元数据 + 文本 + 时间戳 + 文件ID
}

// FileID 返回载荷中的文件ID
func (p Point) FileID() string {
	id, _ := p.Payload[PayloadFileID].(string)
	return id
}

// DistanceType 稠密向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// Config 向量数据库配置
type Config struct {
	Type             string        // 数据库类型，"memory" 或 "qdrant"
	URL              string        // 服务地址，例如 http://localhost:6334
	APIKey           string        // 访问密钥
	Collection       string        // 集合名称
	Dimension        int           // 稠密向量维度，0表示不校验
	DistanceType     DistanceType  // 稠密向量距离
	EnsureCollection bool          // 集合不存在时是否创建
	Timeout          time.Duration // 单次调用超时
}

// StorageError 向量库操作失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vector store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
