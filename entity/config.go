// Package entity 实现敏感数据实体识别与脱敏。
// 基于可配置的正则识别实体，按实体类型配置的方法计算脱敏值，
// 并提供占位符替换与还原（anonymize_restore）流程。
package entity

import (
	"context"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// Recognition 实体识别方式，封闭枚举。
type Recognition string

const (
	// RecognitionRegex 正则识别，基于 Pattern 字段
	RecognitionRegex Recognition = "regex"
	// RecognitionGenAI 模型抽取识别，基于 Definition 字段
	RecognitionGenAI Recognition = "genai"
)

// Method 脱敏方法，封闭枚举。
type Method string

const (
	MethodReplace      Method = "replace"
	MethodMask         Method = "mask"
	MethodHash         Method = "hash"
	MethodEncrypt      Method = "encrypt"
	MethodShuffle      Method = "shuffle"
	MethodRandom       Method = "random"
	MethodRegexReplace Method = "regex_replace"
	MethodGenAINatural Method = "genai_natural"
	MethodGenAICode    Method = "genai_code"
)

// MethodConfig 脱敏方法参数。
type MethodConfig struct {
	// Replacement replace 方法的替换文本，空则使用 <ENTITY_TYPE>
	Replacement string `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	// MaskChar mask 方法的遮盖字符，默认 "*"
	MaskChar string `json:"mask_char,omitempty" yaml:"mask_char,omitempty"`
	// KeepPrefix / KeepSuffix mask 方法保留的前后缀长度
	KeepPrefix int `json:"keep_prefix,omitempty" yaml:"keep_prefix,omitempty"`
	KeepSuffix int `json:"keep_suffix,omitempty" yaml:"keep_suffix,omitempty"`
	// Pattern / PatternReplacement regex_replace 方法的子模式替换
	Pattern            string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	PatternReplacement string `json:"pattern_replacement,omitempty" yaml:"pattern_replacement,omitempty"`
}

// Type 一种敏感实体类型配置。
type Type struct {
	Code        string          `json:"entity_type" yaml:"entity_type"`
	DisplayName string          `json:"display_name" yaml:"display_name"`
	RiskLevel   types.RiskLevel `json:"risk_level" yaml:"risk_level"`
	Recognition Recognition     `json:"recognition_method" yaml:"recognition_method"`
	// Pattern regex 识别的正则表达式
	Pattern string `json:"pattern" yaml:"pattern"`
	// Definition genai 识别的自然语言实体描述
	Definition string       `json:"entity_definition,omitempty" yaml:"entity_definition,omitempty"`
	Method     Method       `json:"anonymization_method" yaml:"anonymization_method"`
	Config     MethodConfig `json:"anonymization_config" yaml:"anonymization_config"`
	// Program / ProgramHash genai_code 方法的序列化脱敏程序与
	// SHA-256 摘要，执行前由沙箱校验完整性
	Program     []byte `json:"anonymization_program,omitempty" yaml:"anonymization_program,omitempty"`
	ProgramHash string `json:"anonymization_program_hash,omitempty" yaml:"anonymization_program_hash,omitempty"`
	CheckInput  bool   `json:"check_input" yaml:"check_input"`
	CheckOutput bool   `json:"check_output" yaml:"check_output"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// RecognitionMethod 返回识别方式，空值按 regex 处理（存量配置兼容）。
func (t Type) RecognitionMethod() Recognition {
	if t.Recognition == RecognitionGenAI {
		return RecognitionGenAI
	}
	return RecognitionRegex
}

// AppliesTo 报告实体类型是否对给定检测方向生效。
func (t Type) AppliesTo(direction types.DetectionDirection) bool {
	switch direction {
	case types.DirectionInput:
		return t.CheckInput
	case types.DirectionOutput:
		return t.CheckOutput
	}
	return false
}

// Provider 实体类型配置来源。
// 返回的列表已合并系统模板副本与应用自定义类型，并剔除应用禁用项。
type Provider interface {
	EntityTypes(ctx context.Context, tenantID, appID string) ([]Type, error)
}

// Rewriter 基于模型的自然语言风格脱敏改写（genai_natural 方法）。
type Rewriter interface {
	Rewrite(ctx context.Context, entityType, text string, style Method) (string, error)
}

// Extractor 基于模型的实体抽取（genai 识别方式）。
// 按实体描述从文本中抽取实例字面量，未命中返回空切片。
type Extractor interface {
	ExtractEntities(ctx context.Context, entityType, definition, text string) ([]string, error)
}

// ProgramRunner 执行经哈希校验的序列化脱敏程序（genai_code 方法）。
type ProgramRunner interface {
	ExecuteVerified(ctx context.Context, serialized []byte, wantHash, text string) (string, error)
}

// Dependencies 检测器的可选外部协作者，任一字段可为 nil。
// Rewriter 缺失时 genai_natural 回退占位符；Extractor 缺失时
// genai 识别类型被跳过；Sandbox 缺失时 genai_code 回退占位符。
type Dependencies struct {
	Rewriter  Rewriter
	Extractor Extractor
	Sandbox   ProgramRunner
}

// BuiltinTypes 返回系统内置实体类型模板。
func BuiltinTypes() []Type {
	return []Type{
		{
			Code:        "ID_CARD_NUMBER_SYS",
			DisplayName: "ID Card Number",
			RiskLevel:   types.RiskHigh,
			Pattern:     `[1-8]\d{5}(19|20)\d{2}((0[1-9])|(1[0-2]))((0[1-9])|([12]\d)|(3[01]))\d{3}[\dxX]`,
			Method:      MethodMask,
			Config:      MethodConfig{MaskChar: "*", KeepPrefix: 3, KeepSuffix: 4},
			CheckInput:  true,
			CheckOutput: true,
			Enabled:     true,
		},
		{
			Code:        "PHONE_NUMBER_SYS",
			DisplayName: "Phone Number",
			RiskLevel:   types.RiskMedium,
			Pattern:     `1[3-9]\d{9}`,
			Method:      MethodMask,
			Config:      MethodConfig{MaskChar: "*", KeepPrefix: 3, KeepSuffix: 4},
			CheckInput:  true,
			CheckOutput: true,
			Enabled:     true,
		},
		{
			Code:        "EMAIL_SYS",
			DisplayName: "Email",
			RiskLevel:   types.RiskLow,
			Pattern:     `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			Method:      MethodMask,
			Config:      MethodConfig{MaskChar: "*", KeepPrefix: 2},
			CheckInput:  true,
			CheckOutput: true,
			Enabled:     true,
		},
		{
			Code:        "BANK_CARD_NUMBER_SYS",
			DisplayName: "Bank Card Number",
			RiskLevel:   types.RiskHigh,
			Pattern:     `\d{16,19}`,
			Method:      MethodMask,
			Config:      MethodConfig{MaskChar: "*", KeepPrefix: 4, KeepSuffix: 4},
			CheckInput:  true,
			CheckOutput: true,
			Enabled:     true,
		},
		{
			Code:        "PASSPORT_NUMBER_SYS",
			DisplayName: "Passport Number",
			RiskLevel:   types.RiskHigh,
			Pattern:     `[EGP]\d{8}`,
			Method:      MethodMask,
			Config:      MethodConfig{MaskChar: "*", KeepPrefix: 1, KeepSuffix: 2},
			CheckInput:  true,
			CheckOutput: true,
			Enabled:     true,
		},
		{
			Code:        "IP_ADDRESS_SYS",
			DisplayName: "IP Address",
			RiskLevel:   types.RiskLow,
			Pattern:     `(?:\d{1,3}\.){3}\d{1,3}`,
			Method:      MethodReplace,
			Config:      MethodConfig{Replacement: "<IP_ADDRESS>"},
			CheckInput:  true,
			CheckOutput: true,
			Enabled:     true,
		},
	}
}
