package entity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/openguardrails/openguardrails-sub000/types"
)

func TestAnonymizeMessagesOneWay(t *testing.T) {
	messages := []types.Message{
		types.NewUserMessage("my phone is 13812345678"),
		types.NewAssistantMessage("noted: 13812345678"),
	}
	entities := []types.SensitiveEntity{
		{EntityType: "PHONE_NUMBER_SYS", Text: "13812345678", AnonymizedValue: "138****5678"},
	}

	out, mapping := AnonymizeMessages(messages, entities, ActionAnonymize)
	assert.Nil(t, mapping)
	assert.Equal(t, "my phone is 138****5678", out[0].Content)
	// 仅用户消息被替换
	assert.Equal(t, "noted: 13812345678", out[1].Content)
}

func TestAnonymizeMessagesWithRestore(t *testing.T) {
	messages := []types.Message{
		types.NewUserMessage("mail a@b.com and c@d.com please"),
	}
	entities := []types.SensitiveEntity{
		{EntityType: "EMAIL_SYS", Text: "a@b.com"},
		{EntityType: "EMAIL_SYS", Text: "c@d.com"},
	}

	out, mapping := AnonymizeMessages(messages, entities, ActionAnonymizeRestore)
	require.NotNil(t, mapping)
	assert.Len(t, mapping, 2)
	assert.Equal(t, "mail __email_sys_1__ and __email_sys_2__ please", out[0].Content)
	assert.Equal(t, "a@b.com", mapping["__email_sys_1__"])
	assert.Equal(t, "c@d.com", mapping["__email_sys_2__"])
}

func TestAnonymizeLongestFirst(t *testing.T) {
	// 长原文先被替换，避免短原文截断长原文
	entities := []types.SensitiveEntity{
		{EntityType: "SHORT", Text: "1234", AnonymizedValue: "<S>"},
		{EntityType: "LONG", Text: "123456", AnonymizedValue: "<L>"},
	}
	out, _ := AnonymizeContent("value 123456 here", entities, ActionAnonymize)
	assert.Equal(t, "value <L> here", out)
}

func TestAnonymizeMissingValueFallsBack(t *testing.T) {
	entities := []types.SensitiveEntity{
		{EntityType: "token", Text: "abc-123"},
	}
	out, _ := AnonymizeContent("token abc-123", entities, ActionAnonymize)
	assert.Equal(t, "token <TOKEN>", out)
}

func TestRestoreContent(t *testing.T) {
	mapping := map[string]string{
		"__email_sys_1__":  "a@b.com",
		"__email_sys_12__": "z@y.com",
	}
	// 长占位符先还原，避免 __email_sys_1__ 吃掉 __email_sys_12__ 的前缀
	out := RestoreContent("got __email_sys_12__ and __email_sys_1__", mapping)
	assert.Equal(t, "got z@y.com and a@b.com", out)

	assert.Equal(t, "", RestoreContent("", mapping))
	assert.Equal(t, "plain", RestoreContent("plain", nil))
}

func TestAnonymizeRestoreRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		var entities []types.SensitiveEntity
		content := "start "
		for i := 0; i < n; i++ {
			secret := fmt.Sprintf("secret-%d-%s", i, rapid.StringMatching(`[a-z0-9]{4,12}`).Draw(t, "secret"))
			entities = append(entities, types.SensitiveEntity{EntityType: "TOKEN", Text: secret})
			content += secret + " "
		}
		content += "end"

		anonymized, mapping := AnonymizeContent(content, entities, ActionAnonymizeRestore)
		restored := RestoreContent(anonymized, mapping)
		if restored != content {
			t.Fatalf("round trip mismatch:\n in: %q\nout: %q", content, restored)
		}
	})
}
