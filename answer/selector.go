// Package answer 为拦截与代答处置解析建议回答。
// 解析优先级：知识库语义匹配 > 租户模板 > 全局默认模板 > 内置多语言兜底。
// 数据泄露拦截始终使用固定文案，避免通过可定制回答泄露命中的实体信息。
package answer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// Template 一条回答模板。Content 按语言存多份文案。
type Template struct {
	// Category 标签（"S2" 等）或 "default"
	Category  string            `json:"category" yaml:"category"`
	IsDefault bool              `json:"is_default" yaml:"is_default"`
	Content   map[string]string `json:"content" yaml:"content"`
	Enabled   bool              `json:"enabled" yaml:"enabled"`
}

// Localized 返回模板在给定语言下的文案，缺失时回退英文或任一语言。
func (t Template) Localized(lang string) string {
	if s, ok := t.Content[lang]; ok && s != "" {
		return s
	}
	if s, ok := t.Content["en"]; ok && s != "" {
		return s
	}
	for _, s := range t.Content {
		if s != "" {
			return s
		}
	}
	return ""
}

// Provider 模板配置来源。tenantID 为空表示全局模板。
type Provider interface {
	Templates(ctx context.Context, tenantID string) ([]Template, error)
}

// KnowledgeBase 知识库语义检索。未命中返回空串。
type KnowledgeBase interface {
	SearchAnswer(ctx context.Context, tenantID string, categories []string, query string) (string, error)
}

// AppealLinker 申诉链接生成。返回空串表示不追加。
type AppealLinker interface {
	AppealLink(ctx context.Context, tenantID, detectionID, language string) (string, error)
}

var fallbackAnswers = map[string]string{
	"en": "Sorry, I can't answer this question. If you have any questions, please contact customer service.",
	"zh": "抱歉，我无法回答这个问题。如有任何疑问，请联系客服。",
}

var dataLeakageAnswers = map[string]string{
	"en": "Request blocked by OpenGuardrails due to sensitive data policy violation.",
	"zh": "请求包含敏感数据，已被 OpenGuardrails 依据数据安全策略拦截。",
}

// SelectorConfig 回答选择器配置。
type SelectorConfig struct {
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultSelectorConfig 返回默认配置。
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{TTL: 10 * time.Minute}
}

// Selector 建议回答选择器，模板按租户做 TTL 快照缓存。
// kb 与 appeals 均可为 nil，对应能力自动关闭。
type Selector struct {
	provider Provider
	kb       KnowledgeBase
	appeals  AppealLinker
	ttl      time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]templateEntry

	now func() time.Time
}

type templateEntry struct {
	templates []Template
	expiresAt time.Time
}

// NewSelector 创建回答选择器。
func NewSelector(provider Provider, kb KnowledgeBase, appeals AppealLinker, cfg SelectorConfig, logger *zap.Logger) *Selector {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSelectorConfig().TTL
	}
	return &Selector{
		provider: provider,
		kb:       kb,
		appeals:  appeals,
		ttl:      cfg.TTL,
		logger:   logger.With(zap.String("component", "answer_selector")),
		entries:  make(map[string]templateEntry),
		now:      time.Now,
	}
}

// SuggestAnswer 为通用风险处置解析建议回答。
// categories 是命中的类别名称，按内置风险等级从高到低尝试模板。
func (s *Selector) SuggestAnswer(ctx context.Context, categories []string, userQuery string, auth types.AuthContext) string {
	lang := auth.Lang()
	if len(categories) == 0 {
		return s.defaultAnswer(ctx, auth.TenantID, lang)
	}

	if s.kb != nil && strings.TrimSpace(userQuery) != "" {
		kbAnswer, err := s.kb.SearchAnswer(ctx, auth.TenantID, categories, strings.TrimSpace(userQuery))
		if err != nil {
			s.logger.Warn("knowledge base search failed", zap.Error(err))
		} else if kbAnswer != "" {
			return kbAnswer
		}
	}

	tags := categoryTags(categories)
	tenantTemplates := s.templates(ctx, auth.TenantID)
	globalTemplates := s.templates(ctx, "")

	for _, tag := range tags {
		// 租户非默认模板优先，其次租户默认模板
		if t, ok := findTemplate(tenantTemplates, tag, false); ok {
			return t.Localized(lang)
		}
		if t, ok := findTemplate(tenantTemplates, tag, true); ok {
			return t.Localized(lang)
		}
		if t, ok := findTemplate(globalTemplates, tag, true); ok {
			return t.Localized(lang)
		}
	}
	return s.defaultAnswer(ctx, auth.TenantID, lang)
}

// DataLeakageAnswer 返回数据泄露拦截的固定文案。
func DataLeakageAnswer(lang string) string {
	if msg, ok := dataLeakageAnswers[lang]; ok {
		return msg
	}
	return dataLeakageAnswers["en"]
}

// FallbackAnswer 返回内置兜底文案。
func FallbackAnswer(lang string) string {
	if msg, ok := fallbackAnswers[lang]; ok {
		return msg
	}
	return fallbackAnswers["en"]
}

// AppendAppealLink 为拒绝/代答回答追加申诉链接。
func (s *Selector) AppendAppealLink(ctx context.Context, suggestAnswer, detectionID string, auth types.AuthContext) string {
	if s.appeals == nil || suggestAnswer == "" {
		return suggestAnswer
	}
	link, err := s.appeals.AppealLink(ctx, auth.TenantID, detectionID, auth.Lang())
	if err != nil {
		s.logger.Warn("appeal link generation failed", zap.Error(err))
		return suggestAnswer
	}
	if link == "" {
		return suggestAnswer
	}
	return suggestAnswer + "\n\n" + link
}

// Invalidate 使租户模板缓存失效。
func (s *Selector) Invalidate(tenantID string) {
	s.mu.Lock()
	delete(s.entries, tenantID)
	s.mu.Unlock()
}

func (s *Selector) defaultAnswer(ctx context.Context, tenantID, lang string) string {
	if t, ok := findTemplate(s.templates(ctx, tenantID), "default", true); ok {
		return t.Localized(lang)
	}
	if t, ok := findTemplate(s.templates(ctx, ""), "default", true); ok {
		return t.Localized(lang)
	}
	return FallbackAnswer(lang)
}

func (s *Selector) templates(ctx context.Context, tenantID string) []Template {
	s.mu.RLock()
	entry, ok := s.entries[tenantID]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expiresAt) {
		return entry.templates
	}

	templates, err := s.provider.Templates(ctx, tenantID)
	if err != nil {
		s.logger.Warn("template load failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		if ok {
			return entry.templates
		}
		return nil
	}

	s.mu.Lock()
	s.entries[tenantID] = templateEntry{templates: templates, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return templates
}

func findTemplate(templates []Template, category string, isDefault bool) (Template, bool) {
	for _, t := range templates {
		if t.Enabled && t.Category == category && t.IsDefault == isDefault {
			return t, true
		}
	}
	return Template{}, false
}

// categoryTags 把类别名称映射回标签并按风险等级从高到低排序。
// 未知名称排在末尾，不参与模板匹配。
func categoryTags(categories []string) []string {
	nameToTag := make(map[string]string, len(types.BuiltinCategoryNames))
	for tag, name := range types.BuiltinCategoryNames {
		nameToTag[name] = tag
	}

	var tags []string
	for _, c := range categories {
		if tag, ok := nameToTag[c]; ok {
			tags = append(tags, tag)
		}
	}
	// 高风险标签优先匹配模板
	sort.SliceStable(tags, func(i, j int) bool {
		return types.BuiltinRiskLevels[tags[i]].Rank() > types.BuiltinRiskLevels[tags[j]].Rank()
	})
	return tags
}
