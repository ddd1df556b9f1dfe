package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/fyerfyer/doc-ingest-worker/internal/pyprovider"
)

// HTTPClient 调用外部向量化服务的客户端
// 每个分段一次请求，请求体为 {"input": {"text": ...}}
type HTTPClient struct {
	http   pyprovider.Client
	config *Config
}

// NewHTTPClient 创建向量化服务客户端
func NewHTTPClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.BaseURL == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "embedding endpoint is required")
	}

	svc := pyprovider.DefaultConfig().WithBaseURL(cfg.BaseURL).WithTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		svc.WithHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	httpClient, err := pyprovider.NewClient(svc)
	if err != nil {
		return nil, WrapEmbeddingError(ErrCodeInvalidRequest, ErrMsgInvalidRequest, err)
	}

	return &HTTPClient{http: httpClient, config: cfg}, nil
}

// Embed 生成单条文本的三种向量
func (c *HTTPClient) Embed(ctx context.Context, text string) (*VectorBundle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var resp embedResponse
	req := embedRequest{Input: embedInput{Text: text}}
	if err := c.http.Post(ctx, "", req, &resp); err != nil {
		return nil, classifyError(err)
	}
	return resp.toBundle()
}

// Name 返回模型名称
func (c *HTTPClient) Name() string {
	return c.config.Model
}

// classifyError 把传输层错误转换为EmbeddingError
func classifyError(err error) error {
	var apiErr *pyprovider.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return WrapEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return WrapEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited, err)
		case apiErr.StatusCode >= 500:
			return WrapEmbeddingError(ErrCodeServerError, ErrMsgServerError, err)
		default:
			return WrapEmbeddingError(ErrCodeServerError, fmt.Sprintf("unexpected status %d", apiErr.StatusCode), err)
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return WrapEmbeddingError(ErrCodeTimeout, ErrMsgTimeout, err)
	}
	if errors.Is(err, pyprovider.ErrInvalidResponse) {
		return WrapEmbeddingError(ErrCodeMalformedResponse, ErrMsgMalformedResponse, err)
	}
	return WrapEmbeddingError(ErrCodeNetworkError, ErrMsgNetworkError, err)
}

func init() {
	RegisterClient("http", NewHTTPClient)
}
