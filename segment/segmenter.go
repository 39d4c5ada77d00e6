// Package segment 按内容格式将长文本切分为适合模型上下文的片段。
// JSON/YAML 按元素或键分组且每个片段保持合法 JSON，CSV 每个片段
// 重复表头，Markdown 按标题分节，纯文本按段落切分。
package segment

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openguardrails/openguardrails-sub000/format"
)

// Segment 切分出的内容片段。
// OriginalStart/OriginalEnd 为片段在原文中的字符偏移，段间分隔符
// 与 CSV 重复表头均计入偏移，使片段内检测结果可换算回原文坐标。
// YAML 经重编码切分，偏移相对重编码后的 JSON 流。
type Segment struct {
	Content       string        `json:"content"`
	Index         int           `json:"segment_index"`
	OriginalStart int           `json:"original_start"`
	OriginalEnd   int           `json:"original_end"`
	Format        format.Format `json:"format"`
}

// SegmenterConfig 切分配置。
type SegmenterConfig struct {
	// MaxSegmentSize 单片段最大字符数
	MaxSegmentSize int `json:"max_segment_size" yaml:"max_segment_size"`
	// MinSegmentSize 最小片段字符数，避免产生过碎片段
	MinSegmentSize int `json:"min_segment_size" yaml:"min_segment_size"`
}

// DefaultSegmenterConfig 返回默认配置。
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		MaxSegmentSize: 4000,
		MinSegmentSize: 100,
	}
}

// Segmenter 格式感知的内容切分器。
type Segmenter struct {
	maxSize int
	minSize int
}

// NewSegmenter 创建切分器。
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = def.MaxSegmentSize
	}
	if cfg.MinSegmentSize <= 0 {
		cfg.MinSegmentSize = def.MinSegmentSize
	}
	return &Segmenter{maxSize: cfg.MaxSegmentSize, minSize: cfg.MinSegmentSize}
}

// Segment 按格式切分内容。不超过单片段上限时原样返回单片段。
func (s *Segmenter) Segment(text string, md format.Metadata) []Segment {
	if text == "" || len(text) <= s.maxSize {
		return []Segment{{
			Content:     text,
			OriginalEnd: len(text),
			Format:      md.Format,
		}}
	}

	switch md.Format {
	case format.FormatJSON:
		return s.segmentJSON(text)
	case format.FormatYAML:
		return s.segmentYAML(text)
	case format.FormatCSV:
		return s.segmentCSV(text)
	case format.FormatMarkdown:
		return s.segmentMarkdown(text)
	default:
		return s.segmentPlainText(text)
	}
}

// segmentJSON 按 JSON 结构切分并保持每个片段为合法 JSON。
// 数组按元素分组，对象按顶层键分组（保持原有键序）。片段内容是
// 原文子串外加补回的定界符，元素间的原始分隔全部保留，因此片段
// 内偏移加上 OriginalStart 即为原文偏移。
func (s *Segmenter) segmentJSON(text string) []Segment {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "["):
		spans, err := decodeArraySpans(text)
		if err != nil {
			return s.segmentPlainText(text)
		}
		return s.batchSpans(text, spans, "[", "]")
	case strings.HasPrefix(trimmed, "{"):
		spans, err := decodeObjectSpans(text)
		if err != nil {
			return s.segmentPlainText(text)
		}
		return s.batchSpans(text, spans, "{", "}")
	default:
		// 标量 JSON 不切分
		return []Segment{{Content: text, OriginalEnd: len(text), Format: format.FormatJSON}}
	}
}

// jsonSpan 顶层元素（或键值对）在原文中的跨度。
type jsonSpan struct {
	start int
	end   int
}

// nextTokenStart 跳过空白与逗号，返回下一个 token 的原文偏移。
func nextTokenStart(text string, from int) int {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r', ',':
			continue
		}
		return i
	}
	return from
}

// decodeArraySpans 以 token 流解码顶层数组，记录每个元素的原文跨度。
func decodeArraySpans(text string) ([]jsonSpan, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("not a JSON array")
	}

	var spans []jsonSpan
	prevEnd := int(dec.InputOffset())
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		end := int(dec.InputOffset())
		spans = append(spans, jsonSpan{start: nextTokenStart(text, prevEnd), end: end})
		prevEnd = end
	}
	return spans, nil
}

// decodeObjectSpans 以 token 流解码顶层对象，记录每个键值对的
// 原文跨度（键的起点到值的终点），保持键序。
func decodeObjectSpans(text string) ([]jsonSpan, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}

	var spans []jsonSpan
	prevEnd := int(dec.InputOffset())
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if _, ok := keyTok.(string); !ok {
			return nil, fmt.Errorf("unexpected object key token %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		end := int(dec.InputOffset())
		spans = append(spans, jsonSpan{start: nextTokenStart(text, prevEnd), end: end})
		prevEnd = end
	}
	return spans, nil
}

// batchSpans 将相邻跨度分批，每批取原文子串并补回定界符。
// OriginalStart 回退一个字符对齐合成的开定界符，使片段内偏移
// 直接加 OriginalStart 即得原文偏移。
func (s *Segmenter) batchSpans(text string, spans []jsonSpan, open, close string) []Segment {
	var segments []Segment
	batchStart := -1
	batchEnd := 0
	size := len(open) + len(close)

	flush := func() {
		if batchStart < 0 {
			return
		}
		content := open + text[batchStart:batchEnd] + close
		segments = append(segments, Segment{
			Content:       content,
			Index:         len(segments),
			OriginalStart: batchStart - len(open),
			OriginalEnd:   batchStart - len(open) + len(content),
			Format:        format.FormatJSON,
		})
		batchStart = -1
		size = len(open) + len(close)
	}

	for _, sp := range spans {
		spanSize := sp.end - sp.start + 1
		if size+spanSize > s.maxSize && batchStart >= 0 {
			flush()
		}
		if batchStart < 0 {
			batchStart = sp.start
		}
		batchEnd = sp.end
		size += spanSize
	}
	flush()
	return segments
}

// segmentYAML 将 YAML 重编码为 JSON 后复用 JSON 切分。
func (s *Segmenter) segmentYAML(text string) []Segment {
	var data any
	if err := yaml.Unmarshal([]byte(text), &data); err != nil {
		return s.segmentPlainText(text)
	}
	jsonText, err := json.Marshal(data)
	if err != nil {
		return s.segmentPlainText(text)
	}
	return s.segmentJSON(string(jsonText))
}

// segmentCSV 按行分批切分，每个片段重复表头保持 CSV 合法。
func (s *Segmenter) segmentCSV(text string) []Segment {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil || len(rows) < 2 {
		return []Segment{{Content: text, OriginalEnd: len(text), Format: format.FormatCSV}}
	}

	headerLine := renderCSVRow(rows[0])
	headerSize := len(headerLine) + 1

	// rowOffset 跟踪下一数据行在原文中的偏移。OriginalStart 扣除
	// 重复表头的长度，使数据行内的检测偏移加 OriginalStart 即为
	// 原文偏移（首段表头恰好对齐原文表头）。
	var segments []Segment
	var batch []string
	size := headerSize
	rowOffset := headerSize
	batchStart := headerSize

	flush := func() {
		if len(batch) == 0 {
			return
		}
		content := headerLine + "\n" + strings.Join(batch, "\n")
		segments = append(segments, Segment{
			Content:       content,
			Index:         len(segments),
			OriginalStart: batchStart - headerSize,
			OriginalEnd:   batchStart - headerSize + len(content),
			Format:        format.FormatCSV,
		})
		batch = nil
		size = headerSize
		batchStart = rowOffset
	}

	for _, row := range rows[1:] {
		line := renderCSVRow(row)
		lineSize := len(line) + 1
		if size+lineSize > s.maxSize && len(batch) > 0 {
			flush()
		}
		batch = append(batch, line)
		size += lineSize
		rowOffset += lineSize
	}
	flush()
	return segments
}

func renderCSVRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		if strings.Contains(f, ",") {
			quoted[i] = `"` + f + `"`
		} else {
			quoted[i] = f
		}
	}
	return strings.Join(quoted, ",")
}

var mdSectionHeaderRe = regexp.MustCompile(`^#{1,6}\s+.+$`)

// segmentMarkdown 按标题分节后将节分组为片段。
func (s *Segmenter) segmentMarkdown(text string) []Segment {
	lines := strings.Split(text, "\n")

	var sections [][]string
	var current []string
	for _, line := range lines {
		if mdSectionHeaderRe.MatchString(strings.TrimSpace(line)) && len(current) > 0 {
			sections = append(sections, current)
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, current)
	}

	var segments []Segment
	var segLines []string
	size := 0
	offset := 0

	flush := func() {
		if len(segLines) == 0 {
			return
		}
		content := strings.Join(segLines, "\n")
		segments = append(segments, Segment{
			Content:       content,
			Index:         len(segments),
			OriginalStart: offset,
			OriginalEnd:   offset + len(content),
			Format:        format.FormatMarkdown,
		})
		// 片段间的换行分隔符计入偏移
		offset += len(content) + 1
		segLines = nil
		size = 0
	}

	for _, section := range sections {
		sectionText := strings.Join(section, "\n")
		if size+len(sectionText) > s.maxSize && len(segLines) > 0 {
			flush()
		}
		segLines = append(segLines, section...)
		size += len(sectionText)
	}
	flush()

	if len(segments) == 0 {
		return []Segment{{Content: text, OriginalEnd: len(text), Format: format.FormatMarkdown}}
	}
	return segments
}

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// segmentPlainText 按段落（空行）分组切分。片段内容取原文子串，
// 批内段落间的原始分隔符原样保留，偏移始终为原文坐标。
func (s *Segmenter) segmentPlainText(text string) []Segment {
	seps := paragraphSplitRe.FindAllStringIndex(text, -1)

	type span struct{ start, end int }
	var paras []span
	prev := 0
	for _, sep := range seps {
		paras = append(paras, span{start: prev, end: sep[0]})
		prev = sep[1]
	}
	paras = append(paras, span{start: prev, end: len(text)})

	var segments []Segment
	batchStart := -1
	batchEnd := 0
	size := 0

	flush := func() {
		if batchStart < 0 {
			return
		}
		content := text[batchStart:batchEnd]
		segments = append(segments, Segment{
			Content:       content,
			Index:         len(segments),
			OriginalStart: batchStart,
			OriginalEnd:   batchEnd,
			Format:        format.FormatPlainText,
		})
		batchStart = -1
		size = 0
	}

	for _, p := range paras {
		paraSize := p.end - p.start + 2
		if size+paraSize > s.maxSize && batchStart >= 0 {
			flush()
		}
		if batchStart < 0 {
			batchStart = p.start
		}
		batchEnd = p.end
		size += paraSize
	}
	flush()

	if len(segments) == 0 {
		return []Segment{{Content: text, OriginalEnd: len(text), Format: format.FormatPlainText}}
	}
	return segments
}
