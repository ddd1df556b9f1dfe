package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFConverter PDF文档转换器
// pdfcpu负责结构校验，ledongthuc/pdf负责提取文本
type PDFConverter struct {
	conf *model.Configuration
}

// NewPDFConverter 创建一个新的PDF转换器
func NewPDFConverter() *PDFConverter {
	return &PDFConverter{conf: model.NewDefaultConfiguration()}
}

// Convert 解析PDF文件并提取其文本内容
func (p *PDFConverter) Convert(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := api.ValidateFile(path, p.conf); err != nil {
		return "", fmt.Errorf("invalid PDF: %w", err)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var allText strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if allText.Len() > 0 {
			allText.WriteString("\n\n")
		}
		allText.WriteString(text)
	}

	if allText.Len() == 0 {
		return "", errors.New("no text content found in PDF")
	}
	return allText.String(), nil
}
