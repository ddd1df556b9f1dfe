package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BatchEmbedder 为一个文件的全部分段生成向量
// 结果按输入顺序返回，任一分段失败即整体失败
type BatchEmbedder struct {
	client      Client
	concurrency int
}

// NewBatchEmbedder 创建批量向量化器
// concurrency<=1时严格按顺序逐条调用
func NewBatchEmbedder(client Client, concurrency int) *BatchEmbedder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchEmbedder{
		client:      client,
		concurrency: concurrency,
	}
}

// Concurrency 返回并发度
func (b *BatchEmbedder) Concurrency() int {
	return b.concurrency
}

// EmbedAll 生成所有文本的向量，全部成功后才返回
func (b *BatchEmbedder) EmbedAll(ctx context.Context, texts []string) ([]*VectorBundle, error) {
	results := make([]*VectorBundle, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	if b.concurrency == 1 {
		for i, text := range texts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			bundle, err := b.client.Embed(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
			results[i] = bundle
		}
		return results, nil
	}

	// 第一个错误会取消gctx，尚未开始的调用直接返回
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bundle, err := b.client.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			results[i] = bundle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
