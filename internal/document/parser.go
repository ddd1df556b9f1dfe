package document

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// 元数据键
const (
	MetaSource        = "source"         // 源文件路径
	MetaFileName      = "file_name"      // 文件名，同时作为分块前缀
	MetaFileType      = "file_type"      // 带点的扩展名
	MetaDateProcessed = "date_processed" // 抽取时间（ISO-8601）
)

// Metadata 抽取单元的来源元数据
// 抽取完成后只读
type Metadata map[string]string

// Clone 复制元数据
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ExtractedUnit 一段独立的抽取文本及其元数据
type ExtractedUnit struct {
	Text     string
	Metadata Metadata
}

// Segment 分段结果
type Segment struct {
	Content  string   // 带文件名前缀的分块文本
	Metadata Metadata // 与来源单元共享的元数据
	Index    int      // 单元内的顺序号，从0开始
}

// Converter 文档转换器接口
// 负责把本地文件转换为文本
type Converter interface {
	// Convert 转换文件，返回文本内容
	Convert(ctx context.Context, path string) (string, error)
}

// ConverterFunc 函数形式的转换器
type ConverterFunc func(ctx context.Context, path string) (string, error)

// Convert 实现Converter接口
func (f ConverterFunc) Convert(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Registry 按扩展名分派转换器
type Registry struct {
	mu         sync.RWMutex
	converters map[string]Converter
}

// NewRegistry 创建空的转换器注册表
func NewRegistry() *Registry {
	return &Registry{converters: make(map[string]Converter)}
}

// DefaultRegistry 注册内置的本地转换器
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".pdf", NewPDFConverter())
	r.Register(".docx", NewDocxConverter())
	r.Register(".pptx", NewPptxConverter())
	r.Register(".md", NewMarkdownConverter())
	r.Register(".markdown", NewMarkdownConverter())
	r.Register(".txt", NewPlainTextConverter())
	return r
}

// Register 注册转换器，已存在的扩展名会被覆盖
func (r *Registry) Register(ext string, conv Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[NormalizeExt(ext)] = conv
}

// Lookup 查找扩展名对应的转换器
func (r *Registry) Lookup(ext string) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.converters[NormalizeExt(ext)]
	return conv, ok
}

// Extensions 返回已注册的扩展名（有序）
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.converters))
	for ext := range r.converters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// NormalizeExt 统一扩展名格式：小写且以点开头
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
