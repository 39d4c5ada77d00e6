package guardrail

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// NewRequestID 生成检测请求标识，形如 guardrails-<32位十六进制>。
func NewRequestID() string {
	u := uuid.New()
	return "guardrails-" + hex.EncodeToString(u[:])
}

// TruncateMessages 把会话截断到最大上下文长度（按字符计）。
// 从最新消息向前保留，首个放不下的消息保留其尾部，更早的消息丢弃。
func TruncateMessages(messages []types.Message, maxChars int) []types.Message {
	if maxChars <= 0 || len(messages) == 0 {
		return messages
	}

	budget := maxChars
	for i := len(messages) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(messages[i].Text())
		if n <= budget {
			budget -= n
			continue
		}
		out := make([]types.Message, 0, len(messages)-i)
		if budget > 0 {
			m := messages[i]
			m.Content = tailRunes(m.Content, budget)
			if strings.TrimSpace(m.Content) != "" || m.HasImages() {
				out = append(out, m)
			}
		}
		return append(out, messages[i+1:]...)
	}
	return messages
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// hasDetectableContent 报告会话是否还有可检测的文本或图像。
func hasDetectableContent(messages []types.Message) bool {
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" || m.HasImages() {
			return true
		}
	}
	return false
}

// detectDirection 依据会话结构判定检测方向：
// 末条消息为 assistant 时检测输出，否则检测输入。
func detectDirection(messages []types.Message) types.DetectionDirection {
	if len(messages) > 0 && messages[len(messages)-1].Role == types.RoleAssistant {
		return types.DirectionOutput
	}
	return types.DirectionInput
}

// contentForDirection 按方向抽取待检测文本：
// 输出方向合并全部 assistant 消息，输入方向合并全部 user 消息。
func contentForDirection(messages []types.Message, direction types.DetectionDirection) string {
	role := types.RoleUser
	if direction == types.DirectionOutput {
		role = types.RoleAssistant
	}
	var parts []string
	for _, m := range messages {
		if m.Role == role && m.Text() != "" {
			parts = append(parts, m.Text())
		}
	}
	return strings.Join(parts, "\n")
}
