package entity

import "strings"

// StreamingRestoreBuffer 流式输出的占位符还原缓冲。
// 处理占位符跨 chunk 边界的情况：
//
//	chunk 1: "Hello __em"
//	chunk 2: "ail_1__ world"
//
// 完整占位符立即还原输出，末尾疑似不完整的占位符留在缓冲中等待
// 后续 chunk。兼容旧格式 [entity_type_N] 与新格式 __entity_type_N__。
type StreamingRestoreBuffer struct {
	mapping              map[string]string
	buffer               string
	maxPlaceholderLength int
}

// NewStreamingRestoreBuffer 创建流式还原缓冲。
func NewStreamingRestoreBuffer(mapping map[string]string) *StreamingRestoreBuffer {
	return &StreamingRestoreBuffer{
		mapping:              mapping,
		maxPlaceholderLength: 50,
	}
}

// ProcessChunk 处理一个输出 chunk，返回可安全下发的内容。
func (b *StreamingRestoreBuffer) ProcessChunk(chunk string) string {
	b.buffer += chunk

	restored := RestoreContent(b.buffer, b.mapping)

	// 查找末尾可能的未完成占位符起点
	lastUnderscore := strings.LastIndex(restored, "__")
	lastBracket := strings.LastIndex(restored, "[")
	start := lastUnderscore
	if lastBracket > start {
		start = lastBracket
	}

	if start != -1 {
		tail := restored[start:]
		incomplete := false
		if start == lastUnderscore {
			// __ 计数为奇数说明缺少闭合
			if strings.Count(tail, "__")%2 == 1 {
				incomplete = true
			}
		} else if !strings.Contains(tail, "]") {
			incomplete = true
		}

		if incomplete {
			if len(tail) <= b.maxPlaceholderLength {
				b.buffer = tail
				return restored[:start]
			}
			// 尾部过长，不可能是占位符，全部输出
			b.buffer = ""
			return restored
		}
	}

	b.buffer = ""
	return restored
}

// Flush 在流结束时输出剩余缓冲内容。
func (b *StreamingRestoreBuffer) Flush() string {
	result := RestoreContent(b.buffer, b.mapping)
	b.buffer = ""
	return result
}

// HasPending 报告缓冲中是否还有待输出内容。
func (b *StreamingRestoreBuffer) HasPending() bool {
	return len(b.buffer) > 0
}
