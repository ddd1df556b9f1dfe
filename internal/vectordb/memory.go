package vectordb

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository 内存向量仓库
// 用于本地运行和测试，进程退出后数据丢失
type MemoryRepository struct {
	mu          sync.RWMutex
	dimension   int
	points      map[string]Point
	upsertCalls int
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	return &MemoryRepository{
		dimension: config.Dimension,
		points:    make(map[string]Point),
	}, nil
}

// Upsert 写入整批点，任何一个点无效时整批拒绝
func (r *MemoryRepository) Upsert(ctx context.Context, points []Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	for _, p := range points {
		if err := ValidatePoint(p, r.dimension); err != nil {
			return 0, &StorageError{Op: "upsert", Err: err}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range points {
		r.points[p.ID] = p
	}
	r.upsertCalls++
	return len(points), nil
}

// Get 获取单个点
func (r *MemoryRepository) Get(id string) (Point, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.points[id]
	if !ok {
		return Point{}, ErrPointNotFound
	}
	return p, nil
}

// IDs 返回所有点ID（有序）
func (r *MemoryRepository) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.points))
	for id := range r.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpsertCalls 返回实际访问存储的Upsert次数
func (r *MemoryRepository) UpsertCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upsertCalls
}

// Delete 按ID删除点，不存在的ID忽略
func (r *MemoryRepository) Delete(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.points, id)
	}
	return nil
}

// DeleteByFileID 删除指定文件的所有点
func (r *MemoryRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.points {
		if p.FileID() == fileID {
			delete(r.points, id)
		}
	}
	return nil
}

// Count 获取点总数
func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points), nil
}

// Close 关闭仓库
func (r *MemoryRepository) Close() error {
	return nil
}

// 在包初始化时注册内存仓库
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
