// Package scanner 执行应用启用的检测扫描器并聚合风险裁决。
// 关键词与正则扫描器在本地求值；全部 GenAI 扫描器定义合并为
// 一次模型调用，超长内容走滑动窗口并行检测。
package scanner

import (
	"sort"
	"strconv"
	"strings"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// Type 扫描器类型。
type Type string

const (
	TypeGenAI   Type = "genai"
	TypeRegex   Type = "regex"
	TypeKeyword Type = "keyword"
)

// PackageType 扫描器所属包类型。basic/premium 的定义模型已内置，
// 发送给模型时只带标签与名称；custom 需要附带完整定义。
type PackageType string

const (
	PackageBasic   PackageType = "basic"
	PackagePremium PackageType = "premium"
	PackageCustom  PackageType = "custom"
)

// Definition 一条扫描器配置。
type Definition struct {
	Tag          string          `json:"tag" yaml:"tag"`
	Name         string          `json:"name" yaml:"name"`
	Type         Type            `json:"scanner_type" yaml:"scanner_type"`
	Definition   string          `json:"definition" yaml:"definition"`
	RiskLevel    types.RiskLevel `json:"risk_level" yaml:"risk_level"`
	PackageType  PackageType     `json:"package_type" yaml:"package_type"`
	ScanPrompt   bool            `json:"scan_prompt" yaml:"scan_prompt"`
	ScanResponse bool            `json:"scan_response" yaml:"scan_response"`
}

// AppliesTo 报告扫描器是否作用于给定检测方向。
func (d Definition) AppliesTo(direction types.DetectionDirection) bool {
	if direction == types.DirectionOutput {
		return d.ScanResponse
	}
	return d.ScanPrompt
}

// RenderDefinitions 把 GenAI 扫描器渲染成发给模型的定义行，
// 并按标签数字排序（S1, S2, ..., S21）。
func RenderDefinitions(defs []Definition) []string {
	lines := make([]string, 0, len(defs))
	for _, d := range defs {
		switch d.PackageType {
		case PackageBasic, PackagePremium:
			lines = append(lines, d.Tag+": "+d.Name)
		default:
			lines = append(lines, d.Tag+": "+d.Name+". "+d.Definition)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return definitionTagNumber(lines[i]) < definitionTagNumber(lines[j])
	})
	return lines
}

// JoinDefinitions 按模型约定拼接定义行：以 " \n" 分隔并追加结尾分隔符。
func JoinDefinitions(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, " \n") + " \n"
}

func definitionTagNumber(line string) int {
	tag, _, ok := strings.Cut(line, ":")
	if !ok {
		return 999999
	}
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, "S") {
		return 999999
	}
	n, err := strconv.Atoi(tag[1:])
	if err != nil {
		return 999999
	}
	return n
}
