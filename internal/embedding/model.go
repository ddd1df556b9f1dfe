package embedding

import (
	"sort"
	"strconv"
)

// SparseVector 稀疏向量，Indices升序排列
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// VectorBundle 一个分段的三种向量表示
type VectorBundle struct {
	Dense   []float32    `json:"dense"`   // 稠密向量
	Sparse  SparseVector `json:"sparse"`  // 词项权重
	ColBERT [][]float32  `json:"colbert"` // 每个token一个向量
}

// embedRequest 向量化服务请求体
type embedRequest struct {
	Input embedInput `json:"input"`
}

type embedInput struct {
	Text string `json:"text"`
}

// embedResponse 向量化服务响应体
// 字段使用指针以区分缺失和空值
type embedResponse struct {
	Dense   *[]float32          `json:"dense"`
	Sparse  *map[string]float32 `json:"sparse"`
	ColBERT *[][]float32        `json:"colbert"`
}

// toBundle 校验响应并转换为VectorBundle，不为缺失字段填充默认值
func (r *embedResponse) toBundle() (*VectorBundle, error) {
	switch {
	case r.Dense == nil:
		return nil, malformed("missing dense")
	case r.Sparse == nil:
		return nil, malformed("missing sparse")
	case r.ColBERT == nil:
		return nil, malformed("missing colbert")
	}

	dense := *r.Dense
	if len(dense) == 0 {
		return nil, malformed("empty dense vector")
	}

	colbert := *r.ColBERT
	if len(colbert) == 0 {
		return nil, malformed("empty colbert vectors")
	}
	width := len(colbert[0])
	for i, row := range colbert {
		if len(row) == 0 || len(row) != width {
			return nil, malformed("colbert row %d has length %d, want %d", i, len(row), width)
		}
	}

	sparse, err := parseSparse(*r.Sparse)
	if err != nil {
		return nil, err
	}

	return &VectorBundle{Dense: dense, Sparse: sparse, ColBERT: colbert}, nil
}

// parseSparse 把 {"index": weight} 转为按索引排序的稀疏向量
func parseSparse(weights map[string]float32) (SparseVector, error) {
	sv := SparseVector{
		Indices: make([]uint32, 0, len(weights)),
		Values:  make([]float32, 0, len(weights)),
	}

	indices := make([]uint32, 0, len(weights))
	byIndex := make(map[uint32]float32, len(weights))
	for key, weight := range weights {
		idx, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return SparseVector{}, malformed("sparse key %q is not an index", key)
		}
		if _, dup := byIndex[uint32(idx)]; dup {
			return SparseVector{}, malformed("duplicate sparse index %d", idx)
		}
		indices = append(indices, uint32(idx))
		byIndex[uint32(idx)] = weight
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, idx := range indices {
		sv.Indices = append(sv.Indices, idx)
		sv.Values = append(sv.Values, byIndex[idx])
	}
	return sv, nil
}
