package api

import (
	"fmt"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// =============================================================================
// 📦 检测请求/响应结构
// =============================================================================

// ChatMessage 检测请求中的单条会话消息。
type ChatMessage struct {
	Role    string               `json:"role"`
	Content string               `json:"content"`
	Images  []types.ImageContent `json:"images,omitempty"`
}

// CheckRequest POST /v1/guardrails 的请求体。
type CheckRequest struct {
	// Model 调用方声明的目标模型，仅用于记录
	Model string `json:"model,omitempty"`
	// Messages 待检测的会话，至少一条
	Messages []ChatMessage `json:"messages"`
	// UserID 终端用户标识，用于封禁策略
	UserID string `json:"user_id,omitempty"`
	// Language 答复语言，"en" 或 "zh"
	Language string `json:"language,omitempty"`
}

var validRoles = map[string]struct{}{
	string(types.RoleSystem):    {},
	string(types.RoleUser):      {},
	string(types.RoleAssistant): {},
	string(types.RoleTool):      {},
}

// Validate 校验请求结构：消息非空且角色合法。
func (r CheckRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if _, ok := validRoles[m.Role]; !ok {
			return fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
	}
	return nil
}

// ToMessages 转换为检测流水线的消息表示。
func (r CheckRequest) ToMessages() []types.Message {
	out := make([]types.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, types.Message{
			Role:    types.Role(m.Role),
			Content: m.Content,
			Images:  m.Images,
		})
	}
	return out
}

// CheckResponse POST /v1/guardrails 的响应体，即完整检测结果。
type CheckResponse = types.DetectionResult
