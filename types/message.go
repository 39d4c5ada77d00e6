// Package types provides core types used across the guardrail pipeline.
// This package has ZERO dependencies on other project packages to avoid circular imports.
// All other packages should import types from here.
package types

import (
	"encoding/json"
	"strings"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation request from the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ImageContent represents image data for multimodal messages.
type ImageContent struct {
	Type string `json:"type"` // "url" or "base64"
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"` // base64 encoded
}

// Message represents a conversation message submitted for detection.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Images     []ImageContent `json:"images,omitempty"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// WithImage appends an image part to the message.
func (m Message) WithImage(img ImageContent) Message {
	m.Images = append(m.Images, img)
	return m
}

// HasImages reports whether the message carries image parts.
func (m Message) HasImages() bool {
	return len(m.Images) > 0
}

// Text returns the textual content of the message. Image parts are
// rendered as an "[Image]" marker so that detectors see their presence.
func (m Message) Text() string {
	if !m.HasImages() {
		return m.Content
	}
	parts := make([]string, 0, 1+len(m.Images))
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	for range m.Images {
		parts = append(parts, "[Image]")
	}
	return strings.Join(parts, "\n")
}

// HasImages reports whether any message in the conversation carries images.
func HasImages(messages []Message) bool {
	for _, m := range messages {
		if m.HasImages() {
			return true
		}
	}
	return false
}

// LastUserContent returns the content of the last user message, or "".
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

// LastAssistantContent returns the content of the last assistant message, or "".
func LastAssistantContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant {
			return messages[i].Text()
		}
	}
	return ""
}

// UserContents returns the textual contents of all user messages in order.
func UserContents(messages []Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == RoleUser && m.Text() != "" {
			out = append(out, m.Text())
		}
	}
	return out
}
