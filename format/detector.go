// Package format 识别内容格式（JSON、YAML、CSV、Markdown、纯文本）
// 并提取结构元数据，供数据防泄漏检测聚焦敏感字段。
package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format 内容格式。
type Format string

const (
	FormatJSON      Format = "json"
	FormatYAML      Format = "yaml"
	FormatCSV       Format = "csv"
	FormatMarkdown  Format = "markdown"
	FormatPlainText Format = "plain_text"
)

// sensitiveKeyPatterns 常见敏感字段名。匹配前去除下划线做包含判断。
var sensitiveKeyPatterns = []string{
	// 个人信息
	"ssn", "social_security", "social_security_number",
	"id_card", "idcard", "identity", "passport",
	"phone", "telephone", "mobile", "cell",
	"email", "e-mail", "mail",
	"address", "home_address", "residence",
	"birth", "birthday", "birthdate", "dob", "date_of_birth",

	// 金融信息
	"credit_card", "creditcard", "card_number", "card_num",
	"bank_account", "account_number", "routing_number",
	"cvv", "cvc", "security_code",
	"salary", "income", "balance", "payment",

	// 认证与安全
	"password", "passwd", "pwd", "pass",
	"secret", "token", "api_key", "apikey", "access_key",
	"private_key", "privatekey", "credential", "auth",

	// 健康信息
	"medical", "health", "diagnosis", "prescription",
	"blood_type", "insurance", "patient",

	// 其他
	"tax", "license", "driver_license", "national_id",
}

// Column CSV 敏感列。
type Column struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Header Markdown 标题。
type Header struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Line  int    `json:"line"`
}

// Metadata 格式检测的结构元数据。
type Metadata struct {
	Format             Format   `json:"format"`
	SensitivePaths     []string `json:"sensitive_paths,omitempty"`
	HasSensitiveFields bool     `json:"has_sensitive_fields"`

	// JSON / YAML
	Structure string `json:"structure,omitempty"` // object / array / primitive
	KeyCount  int    `json:"key_count,omitempty"`

	// CSV
	RowCount         int      `json:"row_count,omitempty"`
	ColumnCount      int      `json:"column_count,omitempty"`
	Headers          []string `json:"headers,omitempty"`
	SensitiveColumns []Column `json:"sensitive_columns,omitempty"`

	// Markdown
	MarkdownHeaders []Header `json:"markdown_headers,omitempty"`
	HasCodeBlocks   bool     `json:"has_code_blocks,omitempty"`

	// 纯文本
	LineCount int `json:"line_count,omitempty"`
}

// Detector 格式检测器。
type Detector struct{}

// NewDetector 创建格式检测器。
func NewDetector() *Detector {
	return &Detector{}
}

var (
	mdHeaderRe       = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	mdLinkRe         = regexp.MustCompile(`\[.+\]\(.+\)`)
	mdBulletListRe   = regexp.MustCompile(`(?m)^\s*[-*+]\s`)
	mdNumberedListRe = regexp.MustCompile(`(?m)^\s*\d+\.\s`)
)

// Detect 识别内容格式并提取元数据。
// 依次尝试 JSON、YAML、CSV、Markdown，全部失败时按纯文本处理。
func (d *Detector) Detect(text string) Metadata {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Metadata{Format: FormatPlainText}
	}

	if md, ok := d.tryJSON(trimmed); ok {
		return md
	}
	if md, ok := d.tryYAML(trimmed); ok {
		return md
	}
	if md, ok := d.tryCSV(trimmed); ok {
		return md
	}
	if md, ok := d.tryMarkdown(trimmed); ok {
		return md
	}
	return Metadata{
		Format:    FormatPlainText,
		LineCount: len(strings.Split(trimmed, "\n")),
	}
}

func (d *Detector) tryJSON(text string) (Metadata, bool) {
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return Metadata{}, false
	}
	return d.analyzeTree(data, FormatJSON), true
}

func (d *Detector) tryYAML(text string) (Metadata, bool) {
	var data any
	if err := yaml.Unmarshal([]byte(text), &data); err != nil {
		return Metadata{}, false
	}
	// 任意纯文本都能解析为 YAML 标量，仅映射或序列视为 YAML
	switch data.(type) {
	case map[string]any, []any:
		return d.analyzeTree(data, FormatYAML), true
	}
	return Metadata{}, false
}

func (d *Detector) tryCSV(text string) (Metadata, bool) {
	if len(strings.Split(text, "\n")) < 2 {
		return Metadata{}, false
	}
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil || len(rows) < 2 {
		return Metadata{}, false
	}

	// 列数波动过大则不视为 CSV
	counts := make(map[int]struct{})
	for _, row := range rows {
		counts[len(row)] = struct{}{}
	}
	if len(counts) > 2 {
		return Metadata{}, false
	}

	headers := rows[0]
	if len(headers) < 2 {
		return Metadata{}, false
	}
	md := Metadata{
		Format:      FormatCSV,
		RowCount:    len(rows) - 1,
		ColumnCount: len(headers),
		Headers:     headers,
	}
	for i, h := range headers {
		if isSensitiveKey(h) {
			md.SensitiveColumns = append(md.SensitiveColumns, Column{Index: i, Name: h})
			md.SensitivePaths = append(md.SensitivePaths, h)
		}
	}
	md.HasSensitiveFields = len(md.SensitiveColumns) > 0
	return md, true
}

func (d *Detector) tryMarkdown(text string) (Metadata, bool) {
	lines := strings.Split(text, "\n")
	var headers []Header
	for i, line := range lines {
		if m := mdHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			headers = append(headers, Header{
				Level: len(m[1]),
				Title: strings.TrimSpace(m[2]),
				Line:  i,
			})
		}
	}

	hasCodeBlocks := strings.Contains(text, "```")
	hasSyntax := len(headers) > 0 ||
		hasCodeBlocks ||
		mdLinkRe.MatchString(text) ||
		mdBulletListRe.MatchString(text) ||
		mdNumberedListRe.MatchString(text)
	if !hasSyntax {
		return Metadata{}, false
	}

	return Metadata{
		Format:          FormatMarkdown,
		MarkdownHeaders: headers,
		HasCodeBlocks:   hasCodeBlocks,
	}, true
}

// analyzeTree 递归分析 JSON/YAML 结构，收集敏感字段路径。
func (d *Detector) analyzeTree(data any, f Format) Metadata {
	md := Metadata{Format: f}
	switch v := data.(type) {
	case map[string]any:
		md.Structure = "object"
		md.KeyCount = len(v)
		md.SensitivePaths = collectSensitivePaths(v, "")
	case []any:
		md.Structure = "array"
		if len(v) > 0 {
			if first, ok := v[0].(map[string]any); ok {
				md.SensitivePaths = collectSensitivePaths(first, "")
			}
		}
	default:
		md.Structure = "primitive"
	}
	md.HasSensitiveFields = len(md.SensitivePaths) > 0
	return md
}

func collectSensitivePaths(obj map[string]any, prefix string) []string {
	var paths []string
	for key, value := range obj {
		path := key
		if prefix != "" {
			path = fmt.Sprintf("%s.%s", prefix, key)
		}
		if isSensitiveKey(key) {
			paths = append(paths, path)
		}
		switch nested := value.(type) {
		case map[string]any:
			paths = append(paths, collectSensitivePaths(nested, path)...)
		case []any:
			if len(nested) > 0 {
				if first, ok := nested[0].(map[string]any); ok {
					paths = append(paths, collectSensitivePaths(first, path)...)
				}
			}
		}
	}
	return paths
}

// isSensitiveKey 判断字段名是否疑似承载敏感数据。
// 归一化（小写、去除下划线连字符空格）后做包含匹配。
func isSensitiveKey(key string) bool {
	if key == "" {
		return false
	}
	normalized := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(key))
	for _, pattern := range sensitiveKeyPatterns {
		p := strings.ReplaceAll(pattern, "_", "")
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

// SensitiveFieldPaths 返回元数据中的全部敏感字段路径。
func (m Metadata) SensitiveFieldPaths() []string {
	return m.SensitivePaths
}

// ShouldFocusOnFields 报告是否应聚焦字段级检测而非全文检测。
func (m Metadata) ShouldFocusOnFields() bool {
	return m.HasSensitiveFields
}
