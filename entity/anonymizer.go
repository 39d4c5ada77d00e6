package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// AnonymizeAction 脱敏模式。
//
// ActionAnonymize 使用实体类型配置的方法计算的 anonymized_value，单向不可还原。
// ActionAnonymizeRestore 统一使用 __entity_type_N__ 占位符并返回还原映射，
// 忽略配置的脱敏方法。
type AnonymizeAction string

const (
	ActionAnonymize        AnonymizeAction = "anonymize"
	ActionAnonymizeRestore AnonymizeAction = "anonymize_restore"
)

// AnonymizeMessages 对会话中的用户消息执行脱敏。
// 仅替换 user 角色消息的文本内容，其他消息原样保留。
// anonymize_restore 模式返回占位符到原文的映射，否则映射为 nil。
func AnonymizeMessages(messages []types.Message, entities []types.SensitiveEntity, action AnonymizeAction) ([]types.Message, map[string]string) {
	if len(entities) == 0 {
		return messages, nil
	}

	replacements, restoreMapping := buildReplacements(entities, action)

	out := make([]types.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if msg.Role == types.RoleUser && msg.Content != "" {
			out[i].Content = applyReplacements(msg.Content, replacements)
		}
	}
	return out, restoreMapping
}

// AnonymizeContent 对单段文本执行脱敏，用于输出方向。
func AnonymizeContent(content string, entities []types.SensitiveEntity, action AnonymizeAction) (string, map[string]string) {
	if len(entities) == 0 || content == "" {
		return content, nil
	}
	replacements, restoreMapping := buildReplacements(entities, action)
	return applyReplacements(content, replacements), restoreMapping
}

type replacement struct {
	original string
	value    string
}

// buildReplacements 构建替换表。实体按原文长度降序处理，
// 同一原文只生成一条替换。
func buildReplacements(entities []types.SensitiveEntity, action AnonymizeAction) ([]replacement, map[string]string) {
	sorted := make([]types.SensitiveEntity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Text) > len(sorted[j].Text)
	})

	seen := make(map[string]struct{})
	var replacements []replacement
	var restoreMapping map[string]string
	counters := make(map[string]int)

	if action == ActionAnonymizeRestore {
		restoreMapping = make(map[string]string)
	}

	for _, e := range sorted {
		if e.Text == "" {
			continue
		}
		if _, ok := seen[e.Text]; ok {
			continue
		}
		seen[e.Text] = struct{}{}

		if action == ActionAnonymizeRestore {
			key := strings.ToLower(e.EntityType)
			counters[key]++
			placeholder := fmt.Sprintf("__%s_%d__", key, counters[key])
			replacements = append(replacements, replacement{original: e.Text, value: placeholder})
			restoreMapping[placeholder] = e.Text
			continue
		}

		value := e.AnonymizedValue
		if value == "" {
			value = fallbackPlaceholder(e.EntityType)
		}
		replacements = append(replacements, replacement{original: e.Text, value: value})
	}
	return replacements, restoreMapping
}

// applyReplacements 按原文长度降序逐条替换，避免长原文被短原文截断。
func applyReplacements(content string, replacements []replacement) string {
	out := content
	for _, r := range replacements {
		out = strings.ReplaceAll(out, r.original, r.value)
	}
	return out
}

// RestoreContent 将内容中的占位符还原为原文。
// 按占位符长度降序替换，避免部分匹配。
func RestoreContent(content string, mapping map[string]string) string {
	if content == "" || len(mapping) == 0 {
		return content
	}
	placeholders := make([]string, 0, len(mapping))
	for p := range mapping {
		placeholders = append(placeholders, p)
	}
	sort.Slice(placeholders, func(i, j int) bool {
		if len(placeholders[i]) != len(placeholders[j]) {
			return len(placeholders[i]) > len(placeholders[j])
		}
		return placeholders[i] < placeholders[j]
	})

	out := content
	for _, p := range placeholders {
		out = strings.ReplaceAll(out, p, mapping[p])
	}
	return out
}
