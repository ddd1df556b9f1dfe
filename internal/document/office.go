package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// DefaultMaxEntrySize 单个压缩包条目解压后的默认上限
const DefaultMaxEntrySize int64 = 100 << 20

// OfficeOption DOCX/PPTX转换器选项
type OfficeOption func(*officeOptions)

type officeOptions struct {
	maxEntrySize int64
}

// WithMaxEntrySize 设置单个条目解压后的最大字节数，n<=0时使用默认值
func WithMaxEntrySize(n int64) OfficeOption {
	return func(o *officeOptions) {
		if n > 0 {
			o.maxEntrySize = n
		}
	}
}

func newOfficeOptions(opts []OfficeOption) officeOptions {
	o := officeOptions{maxEntrySize: DefaultMaxEntrySize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DocxConverter DOCX文档转换器
// 从word/document.xml中按段落读取文本
type DocxConverter struct {
	opts officeOptions
}

// NewDocxConverter 创建DOCX转换器
func NewDocxConverter(opts ...OfficeOption) *DocxConverter {
	return &DocxConverter{opts: newOfficeOptions(opts)}
}

// Convert 提取DOCX正文文本
func (d *DocxConverter) Convert(ctx context.Context, filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	data, err := readZipEntry(&zr.Reader, "word/document.xml", d.opts.maxEntrySize)
	if err != nil {
		return "", err
	}

	text, err := extractOOXMLText(data)
	if err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}
	return text, nil
}

// PptxConverter PPTX文档转换器
// 按幻灯片编号顺序读取ppt/slides/slideN.xml
type PptxConverter struct {
	opts officeOptions
}

// NewPptxConverter 创建PPTX转换器
func NewPptxConverter(opts ...OfficeOption) *PptxConverter {
	return &PptxConverter{opts: newOfficeOptions(opts)}
}

// Convert 提取所有幻灯片文本，幻灯片之间以空行分隔
func (p *PptxConverter) Convert(ctx context.Context, filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: num, file: f})
	}
	if len(slides) == 0 {
		return "", errors.New("no slides found in pptx")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := readZipFile(s.file, p.opts.maxEntrySize)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", s.file.Name, err)
		}
		text, err := extractOOXMLText(data)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", s.file.Name, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func readZipEntry(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipFile(f, limit)
		}
	}
	return nil, fmt.Errorf("missing %s", name)
}

// readZipFile 读取条目内容，解压后超过limit字节即失败
func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit %d", ErrEntryTooLarge, f.Name, f.UncompressedSize64, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, f.Name, limit)
	}
	return data, nil
}

// extractOOXMLText 流式读取OOXML，w:t/a:t为文本，w:p/a:p为段落
func extractOOXMLText(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	flush := func() {
		if p := strings.TrimSpace(current.String()); p != "" {
			paragraphs = append(paragraphs, p)
		}
		current.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteString("\t")
			case "br", "cr":
				current.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			case "tc":
				current.WriteString(" ")
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	flush()

	return strings.Join(paragraphs, "\n\n"), nil
}
