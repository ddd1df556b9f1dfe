package document

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownConverter Markdown文档转换器
type MarkdownConverter struct{}

// NewMarkdownConverter 创建新的Markdown转换器
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{}
}

// Convert 读取Markdown文件并提取文本内容
func (m *MarkdownConverter) Convert(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown file: %w", err)
	}
	return MarkdownToText(content), nil
}

// MarkdownToText 将Markdown渲染为HTML后去掉标签
func MarkdownToText(content []byte) string {
	doc := parser.NewWithExtensions(parser.CommonExtensions).Parse(content)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return extractTextFromHTML(string(markdown.Render(doc, renderer)))
}

// blockReplacer 块级标签换成换行，保留段落结构
var blockReplacer = strings.NewReplacer(
	"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	"<p>", "", "</p>", "\n\n",
	"<li>", "- ", "</li>", "\n",
	"<ul>", "\n", "</ul>", "\n", "<ol>", "\n", "</ol>", "\n",
	"<h1>", "\n\n", "</h1>", "\n\n", "<h2>", "\n\n", "</h2>", "\n\n",
	"<h3>", "\n\n", "</h3>", "\n\n", "<h4>", "\n\n", "</h4>", "\n\n",
	"<h5>", "\n\n", "</h5>", "\n\n", "<h6>", "\n\n", "</h6>", "\n\n",
	"</tr>", "\n", "</td>", " ", "</th>", " ",
)

// entityReplacer 常见HTML实体
var entityReplacer = strings.NewReplacer(
	"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#39;", "'", "&nbsp;", " ",
)

// extractTextFromHTML 从HTML中提取纯文本
func extractTextFromHTML(htmlText string) string {
	result := blockReplacer.Replace(htmlText)

	var b strings.Builder
	inTag := false
	for _, r := range result {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	return normalizeWhitespace(entityReplacer.Replace(b.String()))
}

// normalizeWhitespace 行内空白压缩为单个空格，连续空行最多保留一个
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
