package pyprovider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ConvertPath 文档转换接口路径
const ConvertPath = "/documents/convert"

// ConvertResult 文档转换结果
type ConvertResult struct {
	Text     string         `json:"text"`
	FileName string         `json:"file_name"`
	Meta     map[string]any `json:"meta"`
}

// DocumentClient 文档转换服务（MarkItDown）客户端
// 用于本地没有转换器的旧格式，例如.doc、.ppt
type DocumentClient struct {
	client Client
}

// NewDocumentClient 创建一个新的文档转换客户端
func NewDocumentClient(client Client) *DocumentClient {
	return &DocumentClient{
		client: client,
	}
}

// ConvertFile 上传本地文件并返回转换后的文本
func (c *DocumentClient) ConvertFile(ctx context.Context, filePath string) (*ConvertResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var result ConvertResult
	fields := map[string]string{"extension": filepath.Ext(filePath)}
	if err := c.client.PostFile(ctx, ConvertPath, "file", filepath.Base(filePath), f, fields, &result); err != nil {
		return nil, fmt.Errorf("document conversion failed: %w", err)
	}
	if result.Text == "" {
		return nil, errors.New("document conversion returned empty text")
	}
	return &result, nil
}
