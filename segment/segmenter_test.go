package segment

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openguardrails/openguardrails-sub000/format"
)

func smallSegmenter(maxSize int) *Segmenter {
	return NewSegmenter(SegmenterConfig{MaxSegmentSize: maxSize, MinSegmentSize: 1})
}

func TestShortContentSinglePass(t *testing.T) {
	s := NewSegmenter(DefaultSegmenterConfig())
	segs := s.Segment("short text", format.Metadata{Format: format.FormatPlainText})
	require.Len(t, segs, 1)
	assert.Equal(t, "short text", segs[0].Content)
	assert.Equal(t, 0, segs[0].OriginalStart)
	assert.Equal(t, len("short text"), segs[0].OriginalEnd)
}

func TestSegmentJSONArray(t *testing.T) {
	var items []string
	for i := 0; i < 40; i++ {
		items = append(items, fmt.Sprintf(`{"id": %d, "note": "%s"}`, i, strings.Repeat("x", 20)))
	}
	text := "[" + strings.Join(items, ",") + "]"

	s := smallSegmenter(300)
	segs := s.Segment(text, format.Metadata{Format: format.FormatJSON})
	require.Greater(t, len(segs), 1)

	total := 0
	for i, seg := range segs {
		assert.Equal(t, i, seg.Index)
		// 每个片段必须是合法 JSON
		var parsed []map[string]any
		require.NoError(t, json.Unmarshal([]byte(seg.Content), &parsed), "segment %d", i)
		total += len(parsed)
		assert.Equal(t, seg.OriginalEnd-seg.OriginalStart, len(seg.Content))
	}
	assert.Equal(t, 40, total, "no element may be lost")
}

func TestSegmentJSONObjectPreservesKeyOrder(t *testing.T) {
	var pairs []string
	for i := 0; i < 30; i++ {
		pairs = append(pairs, fmt.Sprintf(`"key%02d": "%s"`, i, strings.Repeat("v", 15)))
	}
	text := "{" + strings.Join(pairs, ",") + "}"

	s := smallSegmenter(200)
	segs := s.Segment(text, format.Metadata{Format: format.FormatJSON})
	require.Greater(t, len(segs), 1)

	keyRe := regexp.MustCompile(`"(key\d{2})"`)
	var keys []string
	for _, seg := range segs {
		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(seg.Content), &parsed))
		// 片段内的键按出现顺序提取
		for _, m := range keyRe.FindAllStringSubmatch(seg.Content, -1) {
			keys = append(keys, m[1])
		}
	}
	require.Len(t, keys, 30)
	for i, k := range keys {
		assert.Equal(t, fmt.Sprintf("key%02d", i), k)
	}
}

func TestSegmentCSVRepeatsHeader(t *testing.T) {
	var rows []string
	rows = append(rows, "name,email,city")
	for i := 0; i < 100; i++ {
		rows = append(rows, fmt.Sprintf("user%d,user%d@example.com,metropolis", i, i))
	}
	text := strings.Join(rows, "\n")

	s := smallSegmenter(500)
	segs := s.Segment(text, format.Metadata{Format: format.FormatCSV})
	require.Greater(t, len(segs), 1)

	dataRows := 0
	for _, seg := range segs {
		lines := strings.Split(seg.Content, "\n")
		assert.Equal(t, "name,email,city", lines[0], "header repeated per segment")
		dataRows += len(lines) - 1
	}
	assert.Equal(t, 100, dataRows)
}

func TestSegmentMarkdownSplitsAtHeaders(t *testing.T) {
	var sections []string
	for i := 0; i < 20; i++ {
		sections = append(sections, fmt.Sprintf("## Section %d\n%s", i, strings.Repeat("prose ", 30)))
	}
	text := strings.Join(sections, "\n")

	s := smallSegmenter(600)
	segs := s.Segment(text, format.Metadata{Format: format.FormatMarkdown})
	require.Greater(t, len(segs), 1)

	for _, seg := range segs {
		assert.True(t, strings.HasPrefix(seg.Content, "## Section"),
			"each segment should start at a section header")
	}
}

func TestSegmentPlainTextByParagraphs(t *testing.T) {
	var paras []string
	for i := 0; i < 30; i++ {
		paras = append(paras, strings.Repeat("word ", 20))
	}
	text := strings.Join(paras, "\n\n")

	s := smallSegmenter(400)
	segs := s.Segment(text, format.Metadata{Format: format.FormatPlainText})
	require.Greater(t, len(segs), 1)
	for _, seg := range segs {
		assert.LessOrEqual(t, len(seg.Content), 450)
	}
}

func TestSegmentYAMLReencodesAsJSON(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "key%03d: value-%s\n", i, strings.Repeat("y", 10))
	}

	s := smallSegmenter(500)
	segs := s.Segment(b.String(), format.Metadata{Format: format.FormatYAML})
	require.Greater(t, len(segs), 1)
	for _, seg := range segs {
		var parsed map[string]any
		assert.NoError(t, json.Unmarshal([]byte(seg.Content), &parsed))
	}
}

func TestSegmentPlainTextOffsetsIncludeSeparators(t *testing.T) {
	paraA := strings.Repeat("a", 60)
	paraB := strings.Repeat("b", 60)
	text := paraA + "\n\n" + paraB

	s := smallSegmenter(80)
	segs := s.Segment(text, format.Metadata{Format: format.FormatPlainText})
	require.Len(t, segs, 2)

	// 第二段起点必须越过段间分隔符，直接落在段首字符上
	assert.Equal(t, 0, segs[0].OriginalStart)
	assert.Equal(t, 62, segs[1].OriginalStart)
	for i, seg := range segs {
		assert.Equal(t, seg.Content, text[seg.OriginalStart:seg.OriginalEnd], "segment %d", i)
	}
}

func TestSegmentPlainTextIrregularSeparators(t *testing.T) {
	// 批内的原始分隔符（含空白行）必须原样保留在片段内容里
	text := strings.Repeat("x", 50) + "\n \n" + strings.Repeat("y", 50) +
		"\n\n\n" + strings.Repeat("z", 90)

	s := smallSegmenter(120)
	segs := s.Segment(text, format.Metadata{Format: format.FormatPlainText})
	require.Greater(t, len(segs), 1)

	for i, seg := range segs {
		assert.Equal(t, seg.Content, text[seg.OriginalStart:seg.OriginalEnd], "segment %d", i)
	}
	last := segs[len(segs)-1]
	assert.Equal(t, strings.Index(text, "z"), last.OriginalStart)
}

func TestSegmentMarkdownOffsets(t *testing.T) {
	var sections []string
	for i := 0; i < 10; i++ {
		sections = append(sections, fmt.Sprintf("## Section %d\n%s", i, strings.Repeat("prose ", 30)))
	}
	text := strings.Join(sections, "\n")

	s := smallSegmenter(600)
	segs := s.Segment(text, format.Metadata{Format: format.FormatMarkdown})
	require.Greater(t, len(segs), 1)

	for i, seg := range segs {
		assert.Equal(t, seg.Content, text[seg.OriginalStart:seg.OriginalEnd], "segment %d", i)
	}
}

func TestSegmentCSVOffsets(t *testing.T) {
	var rows []string
	rows = append(rows, "name,email,city")
	for i := 0; i < 40; i++ {
		rows = append(rows, fmt.Sprintf("user%02d,user%02d@example.com,metropolis", i, i))
	}
	text := strings.Join(rows, "\n")
	headerSize := len("name,email,city") + 1

	s := smallSegmenter(400)
	segs := s.Segment(text, format.Metadata{Format: format.FormatCSV})
	require.Greater(t, len(segs), 1)

	// 重复表头计入 OriginalStart：数据行内偏移加 OriginalStart 即原文偏移
	for i, seg := range segs {
		lines := strings.Split(seg.Content, "\n")
		require.Greater(t, len(lines), 1)
		firstRow := lines[1]
		dataStart := seg.OriginalStart + headerSize
		require.LessOrEqual(t, dataStart+len(firstRow), len(text))
		assert.Equal(t, firstRow, text[dataStart:dataStart+len(firstRow)], "segment %d", i)
	}
}

func TestSegmentJSONArrayOffsets(t *testing.T) {
	var items []string
	for i := 0; i < 40; i++ {
		items = append(items, fmt.Sprintf(`{"id": %d, "note": "%s"}`, i, strings.Repeat("x", 20)))
	}
	text := "[" + strings.Join(items, ",") + "]"

	s := smallSegmenter(300)
	segs := s.Segment(text, format.Metadata{Format: format.FormatJSON})
	require.Greater(t, len(segs), 1)

	// 去掉补回的定界符后，片段主体是原文子串
	for i, seg := range segs {
		inner := seg.Content[1 : len(seg.Content)-1]
		assert.Equal(t, inner, text[seg.OriginalStart+1:seg.OriginalEnd-1], "segment %d", i)
	}
}

func TestTokenEstimator(t *testing.T) {
	e := NewTokenEstimator()
	assert.Equal(t, 0, e.Estimate(""))
	n := e.Estimate("hello world, this is a short sentence")
	assert.Greater(t, n, 0)
	assert.True(t, e.FitsContext("tiny", 100))
}
