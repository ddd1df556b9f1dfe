package pyprovider

import (
	"time"
)

// ServiceConfig 外部HTTP服务的连接配置
// 下载、向量化、文档转换服务共用
type ServiceConfig struct {
	BaseURL   string            // 服务地址，可以是完整的接口URL
	Timeout   time.Duration     // 单次调用超时（包含读取响应体）
	UserAgent string            // User-Agent
	Headers   map[string]string // 额外请求头，例如鉴权
}

// DefaultConfig 返回默认配置
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		BaseURL:   "http://localhost:8000",
		Timeout:   60 * time.Second,
		UserAgent: "doc-ingest-worker/1.0",
		Headers:   map[string]string{},
	}
}

// WithBaseURL 设置基础URL
func (c *ServiceConfig) WithBaseURL(url string) *ServiceConfig {
	c.BaseURL = url
	return c
}

// WithTimeout 设置请求超时时间
func (c *ServiceConfig) WithTimeout(timeout time.Duration) *ServiceConfig {
	c.Timeout = timeout
	return c
}

// WithHeader 添加固定请求头
func (c *ServiceConfig) WithHeader(key, value string) *ServiceConfig {
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	c.Headers[key] = value
	return c
}
