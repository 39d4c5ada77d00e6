package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/types"
)

type stubTemplateProvider struct {
	byTenant map[string][]Template
	err      error
}

func (p *stubTemplateProvider) Templates(ctx context.Context, tenantID string) ([]Template, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.byTenant[tenantID], nil
}

type stubKB struct {
	answer string
	err    error
}

func (k *stubKB) SearchAnswer(ctx context.Context, tenantID string, categories []string, query string) (string, error) {
	return k.answer, k.err
}

type stubAppeals struct {
	link string
}

func (a *stubAppeals) AppealLink(ctx context.Context, tenantID, detectionID, language string) (string, error) {
	return a.link, nil
}

var auth = types.AuthContext{TenantID: "t1", ApplicationID: "a1"}

func newSelector(p Provider, kb KnowledgeBase) *Selector {
	return NewSelector(p, kb, nil, DefaultSelectorConfig(), zap.NewNop())
}

func TestSuggestAnswerKnowledgeBaseWins(t *testing.T) {
	p := &stubTemplateProvider{byTenant: map[string][]Template{
		"t1": {{Category: "S2", Enabled: true, Content: map[string]string{"en": "template answer"}}},
	}}
	s := newSelector(p, &stubKB{answer: "kb answer"})

	got := s.SuggestAnswer(context.Background(), []string{"Sensitive Political Topics"}, "what about X", auth)
	assert.Equal(t, "kb answer", got)
}

func TestSuggestAnswerTemplatePriority(t *testing.T) {
	p := &stubTemplateProvider{byTenant: map[string][]Template{
		"t1": {
			{Category: "S2", IsDefault: true, Enabled: true, Content: map[string]string{"en": "tenant default"}},
			{Category: "S2", IsDefault: false, Enabled: true, Content: map[string]string{"en": "tenant custom"}},
		},
		"": {
			{Category: "S2", IsDefault: true, Enabled: true, Content: map[string]string{"en": "global default"}},
		},
	}}
	s := newSelector(p, nil)

	// 租户非默认模板优先
	got := s.SuggestAnswer(context.Background(), []string{"Sensitive Political Topics"}, "", auth)
	assert.Equal(t, "tenant custom", got)

	// 无租户模板时回退全局默认
	got = s.SuggestAnswer(context.Background(), []string{"Sensitive Political Topics"}, "",
		types.AuthContext{TenantID: "t2", ApplicationID: "a1"})
	assert.Equal(t, "global default", got)
}

func TestSuggestAnswerHighestRiskCategoryFirst(t *testing.T) {
	p := &stubTemplateProvider{byTenant: map[string][]Template{
		"t1": {
			{Category: "S10", IsDefault: true, Enabled: true, Content: map[string]string{"en": "insults answer"}},
			{Category: "S2", IsDefault: true, Enabled: true, Content: map[string]string{"en": "political answer"}},
		},
	}}
	s := newSelector(p, nil)

	// S2 为高风险，排在低风险 S10 之前
	got := s.SuggestAnswer(context.Background(), []string{"Insults", "Sensitive Political Topics"}, "", auth)
	assert.Equal(t, "political answer", got)
}

func TestSuggestAnswerFallbacks(t *testing.T) {
	t.Run("hardcoded fallback on empty templates", func(t *testing.T) {
		s := newSelector(&stubTemplateProvider{}, nil)
		got := s.SuggestAnswer(context.Background(), []string{"Sensitive Political Topics"}, "", auth)
		assert.Equal(t, FallbackAnswer("en"), got)
	})

	t.Run("localized fallback", func(t *testing.T) {
		s := newSelector(&stubTemplateProvider{}, nil)
		zhAuth := types.AuthContext{TenantID: "t1", Language: "zh"}
		got := s.SuggestAnswer(context.Background(), nil, "", zhAuth)
		assert.Equal(t, FallbackAnswer("zh"), got)
	})

	t.Run("provider error falls back", func(t *testing.T) {
		s := newSelector(&stubTemplateProvider{err: errors.New("db down")}, nil)
		got := s.SuggestAnswer(context.Background(), []string{"Insults"}, "", auth)
		assert.Equal(t, FallbackAnswer("en"), got)
	})

	t.Run("kb error falls through to templates", func(t *testing.T) {
		p := &stubTemplateProvider{byTenant: map[string][]Template{
			"t1": {{Category: "S10", IsDefault: true, Enabled: true, Content: map[string]string{"en": "tpl"}}},
		}}
		s := newSelector(p, &stubKB{err: errors.New("kb down")})
		got := s.SuggestAnswer(context.Background(), []string{"Insults"}, "query", auth)
		assert.Equal(t, "tpl", got)
	})
}

func TestTemplateLocalized(t *testing.T) {
	tpl := Template{Content: map[string]string{"en": "english", "zh": "中文"}}
	assert.Equal(t, "中文", tpl.Localized("zh"))
	assert.Equal(t, "english", tpl.Localized("fr"))

	onlyZh := Template{Content: map[string]string{"zh": "中文"}}
	assert.Equal(t, "中文", onlyZh.Localized("en"))
}

func TestDataLeakageAnswerIsFixed(t *testing.T) {
	assert.Equal(t, "Request blocked by OpenGuardrails due to sensitive data policy violation.",
		DataLeakageAnswer("en"))
	assert.NotEmpty(t, DataLeakageAnswer("zh"))
	assert.Equal(t, DataLeakageAnswer("en"), DataLeakageAnswer("unknown"))
}

func TestAppendAppealLink(t *testing.T) {
	s := NewSelector(&stubTemplateProvider{}, nil, &stubAppeals{link: "https://appeal.example/x"},
		DefaultSelectorConfig(), zap.NewNop())

	got := s.AppendAppealLink(context.Background(), "blocked", "det-1", auth)
	assert.Equal(t, "blocked\n\nhttps://appeal.example/x", got)

	// 无申诉服务时原样返回
	plain := newSelector(&stubTemplateProvider{}, nil)
	assert.Equal(t, "blocked", plain.AppendAppealLink(context.Background(), "blocked", "det-1", auth))
}
