package scanner

import (
	"strings"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// windowOverlapRatio 相邻窗口重叠比例，避免边界内容漏检。
const windowOverlapRatio = 0.2

// WindowPlanner 为超长会话规划滑动检测窗口。
// 仅用户内容时对用户内容开窗；用户与助手内容并存时各占一半
// 上下文，生成用户窗口与助手窗口的笛卡尔积逐对检测。
type WindowPlanner struct {
	maxContextLength int
}

// NewWindowPlanner 创建窗口规划器。maxContextLength <= 0 时使用默认值。
func NewWindowPlanner(maxContextLength int) *WindowPlanner {
	if maxContextLength <= 0 {
		maxContextLength = DefaultConfig().MaxContextLength
	}
	return &WindowPlanner{maxContextLength: maxContextLength}
}

// Plan 返回待检测的消息窗口列表。内容未超长时原样返回单窗口。
func (p *WindowPlanner) Plan(messages []types.Message) [][]types.Message {
	if len(messages) == 0 {
		return [][]types.Message{nil}
	}

	var userParts, assistantParts []string
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			userParts = append(userParts, m.Content)
		case types.RoleAssistant:
			assistantParts = append(assistantParts, m.Content)
		}
	}
	userContent := strings.Join(userParts, "\n")
	assistantContent := strings.Join(assistantParts, "\n")

	if len(userContent)+len(assistantContent) <= p.maxContextLength {
		return [][]types.Message{messages}
	}

	if assistantContent == "" {
		windows := slidingWindows(userContent, p.maxContextLength)
		out := make([][]types.Message, 0, len(windows))
		for _, w := range windows {
			out = append(out, []types.Message{types.NewUserMessage(w)})
		}
		return out
	}

	// 双角色：各占一半上下文，做笛卡尔积
	half := p.maxContextLength / 2
	userWindows := slidingWindows(userContent, half)
	assistantWindows := slidingWindows(assistantContent, half)

	out := make([][]types.Message, 0, len(userWindows)*len(assistantWindows))
	for _, uw := range userWindows {
		for _, aw := range assistantWindows {
			out = append(out, []types.Message{
				types.NewUserMessage(uw),
				types.NewAssistantMessage(aw),
			})
		}
	}
	return out
}

// slidingWindows 按 80% 步长切分文本，窗口间保留 20% 重叠。
func slidingWindows(text string, windowSize int) []string {
	if text == "" || len(text) <= windowSize {
		return []string{text}
	}
	step := int(float64(windowSize) * (1 - windowOverlapRatio))
	if step < 1 {
		step = 1
	}

	var windows []string
	for start := 0; start < len(text); start += step {
		end := start + windowSize
		if end > len(text) {
			end = len(text)
		}
		windows = append(windows, text[start:end])
		if end >= len(text) {
			break
		}
	}
	return windows
}
