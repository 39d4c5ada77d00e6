package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamingRestoreSplitPlaceholder(t *testing.T) {
	mapping := map[string]string{"__email_1__": "alice@example.com"}
	b := NewStreamingRestoreBuffer(mapping)

	out := b.ProcessChunk("Hello __em")
	assert.Equal(t, "Hello ", out)
	assert.True(t, b.HasPending())

	out += b.ProcessChunk("ail_1__ world")
	out += b.Flush()
	assert.Equal(t, "Hello alice@example.com world", out)
	assert.False(t, b.HasPending())
}

func TestStreamingRestoreCompleteInOneChunk(t *testing.T) {
	mapping := map[string]string{"__phone_1__": "13812345678"}
	b := NewStreamingRestoreBuffer(mapping)

	out := b.ProcessChunk("call __phone_1__ now")
	assert.Equal(t, "call 13812345678 now", out)
	assert.False(t, b.HasPending())
}

func TestStreamingRestoreLegacyBracketFormat(t *testing.T) {
	mapping := map[string]string{"[email_1]": "a@b.com"}
	b := NewStreamingRestoreBuffer(mapping)

	out := b.ProcessChunk("to [ema")
	assert.Equal(t, "to ", out)
	out += b.ProcessChunk("il_1] done")
	out += b.Flush()
	assert.Equal(t, "to a@b.com done", out)
}

func TestStreamingRestoreLongTailNotPlaceholder(t *testing.T) {
	b := NewStreamingRestoreBuffer(map[string]string{"__x_1__": "v"})

	// 下划线开头但过长的尾部不可能是占位符，应全部输出
	long := "__" + strings.Repeat("a", 100)
	out := b.ProcessChunk("text " + long)
	assert.Equal(t, "text "+long, out)
	assert.False(t, b.HasPending())
}

func TestStreamingRestoreFlushRestoresPending(t *testing.T) {
	mapping := map[string]string{"__email_1__": "a@b.com"}
	b := NewStreamingRestoreBuffer(mapping)

	out := b.ProcessChunk("tail __email_1")
	assert.Equal(t, "tail ", out)
	// 流结束时缓冲中的完整占位符仍会被还原
	out += b.ProcessChunk("__")
	out += b.Flush()
	assert.Equal(t, "tail a@b.com", out)
}

func TestStreamingRestoreNoMapping(t *testing.T) {
	b := NewStreamingRestoreBuffer(nil)
	out := b.ProcessChunk("plain text chunk")
	assert.Equal(t, "plain text chunk", out)
}
