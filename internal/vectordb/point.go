package vectordb

import (
	"fmt"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
)

// PointID 生成确定性的点ID，同一文件同一分段总是得到相同ID
func PointID(fileID string, index int) string {
	return fmt.Sprintf("%s-%d", fileID, index)
}

// BuildPoint 由分段和向量构造写入点
// 载荷是元数据的拷贝，不会修改分段元数据
func BuildPoint(fileID string, index int, seg document.Segment, vectors embedding.VectorBundle, indexedAt time.Time) Point {
	payload := make(map[string]interface{}, len(seg.Metadata)+3)
	for k, v := range seg.Metadata {
		payload[k] = v
	}
	payload[PayloadPageContent] = seg.Content
	payload[PayloadIndexedAt] = indexedAt.Format(time.RFC3339)
	payload[PayloadFileID] = fileID

	return Point{
		ID:      PointID(fileID, index),
		Vectors: vectors,
		Payload: payload,
	}
}

// ValidatePoint 检查点是否可写入
func ValidatePoint(p Point, dimension int) error {
	if p.ID == "" {
		return ErrInvalidID
	}
	if err := ValidateVector(p.Vectors.Dense, dimension); err != nil {
		return fmt.Errorf("point %s: %w", p.ID, err)
	}
	if len(p.Vectors.ColBERT) == 0 {
		return fmt.Errorf("point %s: colbert: %w", p.ID, ErrEmptyVector)
	}
	if len(p.Vectors.Sparse.Indices) != len(p.Vectors.Sparse.Values) {
		return fmt.Errorf("point %s: sparse indices and values differ in length", p.ID)
	}
	return nil
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}
	return nil
}
