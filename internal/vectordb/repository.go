package vectordb

import (
	"context"
)

// Repository 向量数据库仓库接口
type Repository interface {
	// Upsert 一次阻塞调用写入整批点，存储确认后才返回
	// 空批次不访问存储
	Upsert(ctx context.Context, points []Point) (int, error)

	// Delete 按ID删除点
	Delete(ctx context.Context, ids []string) error

	// DeleteByFileID 删除指定文件的所有点
	DeleteByFileID(ctx context.Context, fileID string) error

	// Count 获取点总数
	Count(ctx context.Context) (int, error)

	// Close 关闭数据库连接
	Close() error
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量数据库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例
func NewRepository(config Config) (Repository, error) {
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		// 默认使用内存实现
		factory = NewMemoryRepository
	}
	return factory(config)
}
