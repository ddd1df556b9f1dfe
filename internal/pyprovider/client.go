package pyprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrInvalidResponse 响应体不是合法的JSON
var ErrInvalidResponse = errors.New("invalid response body")

// Client 外部服务的HTTP客户端接口
// 不做任何重试，重试由调用方决定
type Client interface {
	// Post 发送JSON请求并把响应解码到result
	Post(ctx context.Context, path string, data interface{}, result interface{}) error
	// PostStream 发送JSON请求并返回响应体，调用方负责关闭
	PostStream(ctx context.Context, path string, data interface{}) (io.ReadCloser, error)
	// PostFile 以multipart表单上传文件并解码JSON响应
	PostFile(ctx context.Context, path, field, fileName string, r io.Reader, fields map[string]string, result interface{}) error
	// GetConfig 获取客户端配置
	GetConfig() *ServiceConfig
}

// HTTPClient 基于net/http的客户端实现
type HTTPClient struct {
	client  *http.Client
	config  *ServiceConfig
	headers map[string]string
}

// APIError 表示服务返回了非2xx状态码
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status code: %d): %s - %s", e.StatusCode, e.Message, e.Detail)
}

// NewClient 创建一个新的HTTP客户端
func NewClient(config *ServiceConfig) (*HTTPClient, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("service base URL is required")
	}

	client := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": config.UserAgent,
	}
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &HTTPClient{
		client:  client,
		config:  config,
		headers: headers,
	}, nil
}

// Post 发送POST请求
func (c *HTTPClient) Post(ctx context.Context, path string, data interface{}, result interface{}) error {
	body, err := c.PostStream(ctx, path, data)
	if err != nil {
		return err
	}
	defer body.Close()
	return decodeBody(body, result)
}

// PostStream 发送POST请求，2xx时返回未读取的响应体
func (c *HTTPClient) PostStream(ctx context.Context, path string, data interface{}) (io.ReadCloser, error) {
	var payload io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request data: %w", err)
		}
		payload = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// PostFile 上传文件
func (c *HTTPClient) PostFile(ctx context.Context, path, field, fileName string, r io.Reader, fields map[string]string, result interface{}) error {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}

	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, &requestBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return err
	}
	defer body.Close()
	return decodeBody(body, result)
}

// GetConfig 返回客户端配置
func (c *HTTPClient) GetConfig() *ServiceConfig {
	return c.config
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

// do 执行请求，状态码>=300时读取错误详情并返回APIError
func (c *HTTPClient) do(req *http.Request) (io.ReadCloser, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			apiErr.Detail = errResp.Detail
		} else {
			apiErr.Detail = string(body)
		}
		return nil, apiErr
	}

	return resp.Body, nil
}

func decodeBody(body io.Reader, result interface{}) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return nil
}
