package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-ingest-worker/internal/cache"
)

// CachedClient 带缓存的嵌入客户端
// 重复摄取同一文件时避免重复调用向量化服务
type CachedClient struct {
	inner  Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 包装一个嵌入客户端
func NewCachedClient(inner Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedClient{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// Embed 优先读取缓存，未命中时调用内部客户端并写回
func (c *CachedClient) Embed(ctx context.Context, text string) (*VectorBundle, error) {
	key := c.cacheKey(text)

	if raw, found, err := c.cache.Get(key); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Embedding cache read failed")
	} else if found {
		var bundle VectorBundle
		if err := json.Unmarshal([]byte(raw), &bundle); err == nil {
			return &bundle, nil
		}
		c.logger.WithField("key", key).Warn("Discarding undecodable embedding cache entry")
	}

	bundle, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bundle); err == nil {
		if err := c.cache.Set(key, string(data), c.ttl); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Embedding cache write failed")
		}
	}
	return bundle, nil
}

// Name 返回内部客户端名称
func (c *CachedClient) Name() string {
	return c.inner.Name()
}

func (c *CachedClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.GenerateCacheKey("embed", c.inner.Name(), hex.EncodeToString(sum[:]))
}
