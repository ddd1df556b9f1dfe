package document

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// attachMode 分隔符保留在哪一侧
type attachMode int

const (
	// attachStart 分隔符并入后一片段的开头
	attachStart attachMode = iota
	// attachEnd 分隔符并入前一片段的末尾（句末标点）
	attachEnd
)

// separator 递归切分使用的分隔符
type separator struct {
	text   string
	attach attachMode
}

// defaultSeparators 由粗到细：段落、换行、句末标点、空白，最后按字符切分
var defaultSeparators = []separator{
	{"\n\n", attachStart},
	{"\n", attachStart},
	{". ", attachEnd},
	{"! ", attachEnd},
	{"? ", attachEnd},
	{"。", attachEnd},
	{"！", attachEnd},
	{"？", attachEnd},
	{" ", attachStart},
	{"", attachStart},
}

// SplitterConfig 分段器配置
type SplitterConfig struct {
	ChunkSize    int // 分块大小（按字符数）
	ChunkOverlap int // 相邻分块共享的字符数
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Validate 检查分块参数
func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return &SplitConfigError{ChunkSize: c.ChunkSize, ChunkOverlap: c.ChunkOverlap, Reason: "chunk size must be positive"}
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return &SplitConfigError{ChunkSize: c.ChunkSize, ChunkOverlap: c.ChunkOverlap, Reason: "chunk overlap must be in [0, chunk size)"}
	}
	return nil
}

// TextSplitter 递归字符分段器
// 无状态，可被多个请求并发使用
type TextSplitter struct {
	config     SplitterConfig
	separators []separator
}

// NewTextSplitter 创建新的文本分段器
func NewTextSplitter(config SplitterConfig) (*TextSplitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TextSplitter{
		config:     config,
		separators: defaultSeparators,
	}, nil
}

// Config 返回分段器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// Split 一次性完成校验与分段
func Split(text string, meta Metadata, chunkSize, chunkOverlap int) ([]Segment, error) {
	s, err := NewTextSplitter(SplitterConfig{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap})
	if err != nil {
		return nil, err
	}
	return s.Split(text, meta), nil
}

// Split 将文本切分为带文件名前缀的段落
// 所有段落共享同一个meta，下游只读
func (s *TextSplitter) Split(text string, meta Metadata) []Segment {
	chunks := s.SplitText(text)
	if len(chunks) == 0 {
		return []Segment{}
	}

	prefix := meta[MetaFileName] + "\n\n"
	segments := make([]Segment, 0, len(chunks))
	for i, chunk := range chunks {
		segments = append(segments, Segment{
			Content:  prefix + strings.TrimLeftFunc(chunk, unicode.IsSpace),
			Metadata: meta,
			Index:    i,
		})
	}
	return segments
}

// SplitDocuments 依次切分多个抽取单元
// Index在每个单元内部从0开始
func (s *TextSplitter) SplitDocuments(units []ExtractedUnit) []Segment {
	var segments []Segment
	for _, unit := range units {
		segments = append(segments, s.Split(unit.Text, unit.Metadata)...)
	}
	if segments == nil {
		return []Segment{}
	}
	return segments
}

// SplitText 返回不带前缀的原始分块
func (s *TextSplitter) SplitText(text string) []string {
	if text == "" {
		return nil
	}
	return s.splitRecursive(text, s.separators)
}

// splitRecursive 选取文本中出现的第一个分隔符切分，过长的片段交给更细的分隔符
func (s *TextSplitter) splitRecursive(text string, separators []separator) []string {
	sep := separators[len(separators)-1]
	var finer []separator
	for i, candidate := range separators {
		if candidate.text == "" {
			sep = candidate
			break
		}
		if strings.Contains(text, candidate.text) {
			sep = candidate
			finer = separators[i+1:]
			break
		}
	}

	var chunks, pending []string
	for _, piece := range splitKeepSeparator(text, sep) {
		if runeLen(piece) < s.config.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.splitRecursive(piece, finer)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending)...)
	}
	return chunks
}

// merge 贪心合并片段，超出ChunkSize时输出并保留尾部不超过ChunkOverlap的片段
func (s *TextSplitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.config.ChunkSize && len(current) > 0 {
			if chunk := joinChunk(current); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.config.ChunkOverlap || (total > 0 && total+n > s.config.ChunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := joinChunk(current); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepSeparator 切分文本并把分隔符保留在相邻片段上，丢弃空片段
func splitKeepSeparator(text string, sep separator) []string {
	if sep.text == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep.text)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		switch {
		case sep.attach == attachStart && i > 0:
			part = sep.text + part
		case sep.attach == attachEnd && i < len(parts)-1:
			part += sep.text
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func joinChunk(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
