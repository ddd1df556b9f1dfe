package document

import (
	"context"
	"errors"

	"github.com/fyerfyer/doc-ingest-worker/internal/pyprovider"
)

// RemoteConverter 通过Python文档转换服务转换文件
type RemoteConverter struct {
	client *pyprovider.DocumentClient
}

// NewRemoteConverter 创建远程转换器
func NewRemoteConverter(client *pyprovider.DocumentClient) *RemoteConverter {
	return &RemoteConverter{client: client}
}

// Convert 上传文件到转换服务
func (c *RemoteConverter) Convert(ctx context.Context, path string) (string, error) {
	if c.client == nil {
		return "", errors.New("conversion service client uninitialized")
	}
	result, err := c.client.ConvertFile(ctx, path)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
