// Package sandbox 执行自定义脱敏程序。
// 程序不是任意代码，而是封闭的原语序列（遮盖、哈希、替换、正则替换），
// 序列化后以 SHA-256 摘要校验完整性，执行前做静态校验，
// 并在固定大小的工作池上带硬超时运行。任何失败都向调用方报错，
// 由调用方回退为固定占位符，绝不放行原文。
package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrHashMismatch 程序内容与记录的摘要不一致。
	ErrHashMismatch = errors.New("program integrity check failed: hash mismatch")
	// ErrProgramUnsafe 程序未通过静态校验。
	ErrProgramUnsafe = errors.New("program rejected by static validation")
	// ErrExecTimeout 程序执行超时。
	ErrExecTimeout = errors.New("program execution timed out")
)

// OpKind 原语类别，封闭枚举。
type OpKind string

const (
	OpMask         OpKind = "mask"
	OpHash         OpKind = "hash"
	OpReplace      OpKind = "replace"
	OpRegexReplace OpKind = "regex_replace"
)

// Op 单条脱敏原语。
type Op struct {
	Kind OpKind `json:"kind"`

	// mask
	MaskChar   string `json:"mask_char,omitempty"`
	KeepPrefix int    `json:"keep_prefix,omitempty"`
	KeepSuffix int    `json:"keep_suffix,omitempty"`

	// hash
	HashLength int `json:"hash_length,omitempty"`

	// replace / regex_replace
	Pattern     string `json:"pattern,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

// Program 一个实体类型的自定义脱敏程序。
type Program struct {
	EntityType string `json:"entity_type"`
	Ops        []Op   `json:"ops"`
}

const (
	maxOps        = 16
	maxPatternLen = 512
	maxFieldLen   = 256
)

// deniedSubstrings 禁止出现在替换文本中的片段。
// 双下划线可伪造还原占位符，反引号与 ${ 可能被下游模板消费。
var deniedSubstrings = []string{"__", "${", "`"}

// Serialize 返回程序的规范化序列化形式。
func (p *Program) Serialize() ([]byte, error) {
	return json.Marshal(p)
}

// Hash 返回程序序列化形式的 SHA-256 摘要（十六进制）。
func (p *Program) Hash() (string, error) {
	data, err := p.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ParseProgram 反序列化并校验程序。
// wantHash 非空时先做完整性校验，再做静态校验。
func ParseProgram(data []byte, wantHash string) (*Program, error) {
	if wantHash != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != wantHash {
			return nil, ErrHashMismatch
		}
	}
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProgramUnsafe, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate 静态校验程序：仅允许已知原语、限制规模、
// 正则必须可编译、替换文本不得含禁用片段。
func (p *Program) Validate() error {
	if len(p.Ops) == 0 {
		return fmt.Errorf("%w: empty program", ErrProgramUnsafe)
	}
	if len(p.Ops) > maxOps {
		return fmt.Errorf("%w: %d ops exceeds limit %d", ErrProgramUnsafe, len(p.Ops), maxOps)
	}
	for i, op := range p.Ops {
		if err := validateOp(op); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

func validateOp(op Op) error {
	switch op.Kind {
	case OpMask:
		if op.KeepPrefix < 0 || op.KeepSuffix < 0 {
			return fmt.Errorf("%w: negative keep length", ErrProgramUnsafe)
		}
		if len(op.MaskChar) > 4 {
			return fmt.Errorf("%w: mask_char too long", ErrProgramUnsafe)
		}
	case OpHash:
		if op.HashLength < 0 || op.HashLength > 64 {
			return fmt.Errorf("%w: hash_length out of range", ErrProgramUnsafe)
		}
	case OpReplace:
		if err := validateReplacement(op.Replacement); err != nil {
			return err
		}
	case OpRegexReplace:
		if op.Pattern == "" {
			return fmt.Errorf("%w: empty pattern", ErrProgramUnsafe)
		}
		if len(op.Pattern) > maxPatternLen {
			return fmt.Errorf("%w: pattern too long", ErrProgramUnsafe)
		}
		if _, err := regexp.Compile(op.Pattern); err != nil {
			return fmt.Errorf("%w: invalid pattern: %v", ErrProgramUnsafe, err)
		}
		if err := validateReplacement(op.Replacement); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrProgramUnsafe, op.Kind)
	}
	return nil
}

func validateReplacement(replacement string) error {
	if len(replacement) > maxFieldLen {
		return fmt.Errorf("%w: replacement too long", ErrProgramUnsafe)
	}
	for _, denied := range deniedSubstrings {
		if strings.Contains(replacement, denied) {
			return fmt.Errorf("%w: replacement contains denied substring %q", ErrProgramUnsafe, denied)
		}
	}
	return nil
}

// apply 顺序应用全部原语。调用前程序必须已通过校验。
func (p *Program) apply(text string) string {
	out := text
	for _, op := range p.Ops {
		out = applyOp(op, out)
	}
	return out
}

func applyOp(op Op, text string) string {
	switch op.Kind {
	case OpMask:
		maskChar := op.MaskChar
		if maskChar == "" {
			maskChar = "*"
		}
		return maskRunes(text, maskChar, op.KeepPrefix, op.KeepSuffix)
	case OpHash:
		sum := sha256.Sum256([]byte(text))
		digest := hex.EncodeToString(sum[:])
		n := op.HashLength
		if n <= 0 || n > len(digest) {
			n = 16
		}
		return digest[:n]
	case OpReplace:
		return op.Replacement
	case OpRegexReplace:
		re, err := regexp.Compile(op.Pattern)
		if err != nil {
			return text
		}
		return re.ReplaceAllString(text, op.Replacement)
	}
	return text
}

func maskRunes(text, maskChar string, keepPrefix, keepSuffix int) string {
	runes := []rune(text)
	if len(runes) <= keepPrefix+keepSuffix {
		return text
	}
	suffix := ""
	if keepSuffix > 0 {
		suffix = string(runes[len(runes)-keepSuffix:])
	}
	return string(runes[:keepPrefix]) +
		strings.Repeat(maskChar, len(runes)-keepPrefix-keepSuffix) +
		suffix
}
