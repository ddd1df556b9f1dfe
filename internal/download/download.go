package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/pyprovider"
	"github.com/fyerfyer/doc-ingest-worker/pkg/storage"
)

// DefaultTimeout 下载超时，包含读取响应体
const DefaultTimeout = 300 * time.Second

// Downloader 按服务端路径获取原始文件内容
type Downloader interface {
	// Fetch 返回文件内容流，调用方负责关闭
	Fetch(ctx context.Context, source string) (io.ReadCloser, error)
}

// Error 下载失败
type Error struct {
	Source     string
	StatusCode int // 非HTTP下载为0
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed with status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s failed: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fetchRequest 下载服务请求体
type fetchRequest struct {
	ServerPath string `json:"server_path"`
}

// HTTPDownloader 通过下载服务获取文件
type HTTPDownloader struct {
	client pyprovider.Client
}

// NewHTTPDownloader 创建HTTP下载器，endpoint为完整的下载接口地址
func NewHTTPDownloader(endpoint string, timeout time.Duration) (*HTTPDownloader, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, err := pyprovider.NewClient(pyprovider.DefaultConfig().
		WithBaseURL(endpoint).
		WithTimeout(timeout).
		WithHeader("Accept", "application/octet-stream"))
	if err != nil {
		return nil, fmt.Errorf("download client: %w", err)
	}
	return &HTTPDownloader{client: client}, nil
}

// Fetch 发送 {"server_path": source} 并返回响应体
func (d *HTTPDownloader) Fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	body, err := d.client.PostStream(ctx, "", fetchRequest{ServerPath: source})
	if err != nil {
		var apiErr *pyprovider.APIError
		if errors.As(err, &apiErr) {
			return nil, &Error{Source: source, StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, &Error{Source: source, Err: err}
	}
	return body, nil
}

// ObjectDownloader 把source当作对象名从对象存储读取
type ObjectDownloader struct {
	store storage.Storage
}

// NewObjectDownloader 创建对象存储下载器
func NewObjectDownloader(store storage.Storage) *ObjectDownloader {
	return &ObjectDownloader{store: store}
}

// Fetch 打开对象
func (d *ObjectDownloader) Fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	rc, err := d.store.Open(ctx, source)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &Error{Source: source, StatusCode: http.StatusNotFound, Err: err}
		}
		return nil, &Error{Source: source, Err: err}
	}
	return rc, nil
}
