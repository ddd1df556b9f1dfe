package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符，Delete/Open使用该值
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	Path     string // 内部存储路径，本地存储为绝对路径
}

// Storage 文件存储接口
// 本地实现用作处理时的临时目录，MinIO实现用作下载源
type Storage interface {
	// Save 保存文件并返回文件信息，每次调用得到唯一ID
	Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error)

	// Open 打开文件内容，调用方负责关闭
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete 删除文件，文件不存在时不报错
	Delete(ctx context.Context, id string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, id string) (bool, error)
}

// getMimeType 根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".doc":
		return "application/msword"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	default:
		return "application/octet-stream"
	}
}
