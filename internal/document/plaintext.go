package document

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// PlainTextConverter 纯文本转换器
type PlainTextConverter struct{}

// NewPlainTextConverter 创建一个新的纯文本转换器
func NewPlainTextConverter() *PlainTextConverter {
	return &PlainTextConverter{}
}

// Convert 读取纯文本文件
func (p *PlainTextConverter) Convert(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("text file is not valid UTF-8")
	}
	return string(content), nil
}
