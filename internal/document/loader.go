package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Loader 抽取适配器
// 按声明的扩展名选择转换器，并把结果包装为ExtractedUnit
type Loader struct {
	registry *Registry
	now      func() time.Time
}

// NewLoader 创建抽取适配器，registry为nil时使用内置转换器
func NewLoader(registry *Registry) *Loader {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Loader{registry: registry, now: time.Now}
}

// Registry 返回转换器注册表
func (l *Loader) Registry() *Registry {
	return l.registry
}

// ExtractOption 抽取选项
type ExtractOption func(*extractOptions)

type extractOptions struct {
	fileName string
	source   string
}

// WithFileName 覆盖file_name元数据
func WithFileName(name string) ExtractOption {
	return func(o *extractOptions) {
		o.fileName = name
	}
}

// WithSource 覆盖source元数据
func WithSource(source string) ExtractOption {
	return func(o *extractOptions) {
		o.source = source
	}
}

// Extract 抽取文件文本
func (l *Loader) Extract(ctx context.Context, path, declaredExt string, opts ...ExtractOption) ([]ExtractedUnit, error) {
	ext := NormalizeExt(declaredExt)
	conv, ok := l.registry.Lookup(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, declaredExt)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, &ExtractionError{Path: path, Ext: ext, Err: err}
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	text, err := convert(ctx, conv, path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Ext: ext, Err: err}
	}

	o := extractOptions{fileName: filepath.Base(path), source: path}
	for _, opt := range opts {
		opt(&o)
	}

	meta := Metadata{
		MetaSource:        o.source,
		MetaFileName:      o.fileName,
		MetaFileType:      ext,
		MetaDateProcessed: l.now().Format(time.RFC3339),
	}

	return []ExtractedUnit{{Text: normalizeText(text), Metadata: meta}}, nil
}

// convert 调用转换器，第三方解析库的panic转为错误返回
func convert(ctx context.Context, conv Converter, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrConverterPanic, r)
		}
	}()
	return conv.Convert(ctx, path)
}

// normalizeText 统一换行并做NFC规范化
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return norm.NFC.String(text)
}
