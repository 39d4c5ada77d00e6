package entity

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"unicode"
)

// anonymizeValue 按方法计算单个实体文本的脱敏值。
// 封闭枚举分发，未知方法回退为 <ENTITY_TYPE> 占位符。
func anonymizeValue(ctx context.Context, t Type, text string, deps Dependencies) string {
	switch t.Method {
	case MethodReplace:
		if t.Config.Replacement != "" {
			return t.Config.Replacement
		}
		return fallbackPlaceholder(t.Code)
	case MethodMask:
		maskChar := t.Config.MaskChar
		if maskChar == "" {
			maskChar = "*"
		}
		return MaskString(text, maskChar, t.Config.KeepPrefix, t.Config.KeepSuffix)
	case MethodHash:
		return HashString(text)
	case MethodEncrypt:
		sum := md5.Sum([]byte(text))
		return fmt.Sprintf("<ENCRYPTED_%s>", hex.EncodeToString(sum[:])[:8])
	case MethodShuffle:
		return shuffleString(text)
	case MethodRandom:
		return randomReplacement(text)
	case MethodRegexReplace:
		return regexReplace(text, t.Config.Pattern, t.Config.PatternReplacement, t.Code)
	case MethodGenAINatural:
		if deps.Rewriter == nil {
			return fallbackPlaceholder(t.Code)
		}
		rewritten, err := deps.Rewriter.Rewrite(ctx, t.Code, text, t.Method)
		if err != nil || rewritten == "" {
			return fallbackPlaceholder(t.Code)
		}
		return rewritten
	case MethodGenAICode:
		if deps.Sandbox == nil || len(t.Program) == 0 {
			return fallbackPlaceholder(t.Code)
		}
		out, err := deps.Sandbox.ExecuteVerified(ctx, t.Program, t.ProgramHash, text)
		if err != nil || out == "" {
			return fallbackPlaceholder(t.Code)
		}
		return out
	default:
		return fallbackPlaceholder(t.Code)
	}
}

func fallbackPlaceholder(entityType string) string {
	return fmt.Sprintf("<%s>", strings.ToUpper(entityType))
}

// MaskString 遮盖字符串中间部分，保留指定长度的前后缀。
// 文本长度不超过保留长度之和时原样返回。
func MaskString(text, maskChar string, keepPrefix, keepSuffix int) string {
	runes := []rune(text)
	if keepPrefix < 0 {
		keepPrefix = 0
	}
	if keepSuffix < 0 {
		keepSuffix = 0
	}
	if len(runes) <= keepPrefix+keepSuffix {
		return text
	}
	prefix := string(runes[:keepPrefix])
	suffix := string(runes[len(runes)-keepSuffix:])
	if keepSuffix == 0 {
		suffix = ""
	}
	middle := strings.Repeat(maskChar, len(runes)-keepPrefix-keepSuffix)
	return prefix + middle + suffix
}

// HashString 返回文本 SHA-256 摘要的前 16 个十六进制字符。
func HashString(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func shuffleString(text string) string {
	runes := []rune(text)
	rand.Shuffle(len(runes), func(i, j int) {
		runes[i], runes[j] = runes[j], runes[i]
	})
	return string(runes)
}

const (
	digits    = "0123456789"
	lowercase = "abcdefghijklmnopqrstuvwxyz"
	uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// randomReplacement 保持长度与字符类别的随机替换。
// 数字换数字，大小写字母换同大小写字母，其他字符原样保留。
func randomReplacement(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, ch := range text {
		switch {
		case unicode.IsDigit(ch):
			b.WriteByte(digits[rand.Intn(len(digits))])
		case unicode.IsUpper(ch):
			b.WriteByte(uppercase[rand.Intn(len(uppercase))])
		case unicode.IsLower(ch):
			b.WriteByte(lowercase[rand.Intn(len(lowercase))])
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// regexReplace 在实体文本内应用子模式替换。
// 模式非法或为空时回退为占位符。
func regexReplace(text, pattern, replacement, entityType string) string {
	if pattern == "" {
		return fallbackPlaceholder(entityType)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fallbackPlaceholder(entityType)
	}
	return re.ReplaceAllString(text, replacement)
}
