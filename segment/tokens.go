package segment

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator 估算文本 token 数，用于对齐模型上下文预算。
// 编码器加载失败（离线环境）时退化为字符数/4 的近似估算。
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenEstimator 创建 token 估算器。
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// Estimate 返回文本的估算 token 数。
func (e *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	// 近似值：平均每 4 个字符一个 token
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// FitsContext 报告文本是否在给定 token 预算内。
func (e *TokenEstimator) FitsContext(text string, budget int) bool {
	return e.Estimate(text) <= budget
}
