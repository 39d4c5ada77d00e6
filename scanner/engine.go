package scanner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openguardrails/openguardrails-sub000/riskconfig"
	"github.com/openguardrails/openguardrails-sub000/types"
)

// Provider 扫描器配置来源，只返回应用已启用的扫描器。
type Provider interface {
	Scanners(ctx context.Context, tenantID, appID string) ([]Definition, error)
}

// ModelChecker 检测模型调用接口。
type ModelChecker interface {
	CheckMessages(ctx context.Context, messages []types.Message, categories string) (string, *float64, error)
}

// Match 单个扫描器的检测结果。
type Match struct {
	Tag          string          `json:"scanner_tag"`
	Name         string          `json:"scanner_name"`
	Type         Type            `json:"scanner_type"`
	RiskLevel    types.RiskLevel `json:"risk_level"`
	Matched      bool            `json:"matched"`
	MatchDetails string          `json:"match_details,omitempty"`
	Sensitivity  *float64        `json:"sensitivity,omitempty"`
}

// Verdict 一次扫描的聚合裁决。
type Verdict struct {
	OverallRiskLevel types.RiskLevel      `json:"overall_risk_level"`
	Matched          []Match              `json:"matched_scanners"`
	Compliance       types.CategoryResult `json:"compliance"`
	Security         types.CategoryResult `json:"security"`
}

// SafeVerdict 返回无风险裁决。
func SafeVerdict() Verdict {
	return Verdict{
		OverallRiskLevel: types.RiskNone,
		Compliance:       types.NewCategoryResult(),
		Security:         types.NewCategoryResult(),
	}
}

// Config 扫描引擎配置。
type Config struct {
	// MaxContextLength 单次模型调用可承载的最大字符数，超过走滑动窗口
	MaxContextLength int `json:"max_context_length" yaml:"max_context_length"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{MaxContextLength: 7168}
}

// Engine 扫描引擎。关键词与正则扫描器本地求值，GenAI 扫描器
// 合并为一次模型调用；配置源故障时回退到内置分类目录的单次检测。
type Engine struct {
	provider Provider
	model    ModelChecker
	riskCfg  *riskconfig.Cache
	planner  *WindowPlanner
	logger   *zap.Logger

	mu         sync.RWMutex
	regexCache map[string]*regexp.Regexp
}

// NewEngine 创建扫描引擎。
func NewEngine(provider Provider, model ModelChecker, riskCfg *riskconfig.Cache, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = DefaultConfig().MaxContextLength
	}
	return &Engine{
		provider:   provider,
		model:      model,
		riskCfg:    riskCfg,
		planner:    NewWindowPlanner(cfg.MaxContextLength),
		logger:     logger.With(zap.String("component", "scanner_engine")),
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Execute 对内容执行全部启用的扫描器并聚合结果。
// content 为按方向抽取的纯文本，messages 为 GenAI 扫描器所需的完整会话。
// 配置源不可用时回退到内置分类目录检测，模型故障整体按安全处理。
func (e *Engine) Execute(ctx context.Context, content string, messages []types.Message, direction types.DetectionDirection, auth types.AuthContext) Verdict {
	defs, err := e.provider.Scanners(ctx, auth.TenantID, auth.ApplicationID)
	if err != nil {
		e.logger.Warn("scanner config load failed, falling back to builtin categories",
			zap.String("tenant_id", auth.TenantID), zap.Error(err))
		return e.LegacyDetect(ctx, messages, auth)
	}

	var genai, regex, keyword []Definition
	for _, d := range defs {
		if !d.AppliesTo(direction) {
			continue
		}
		switch d.Type {
		case TypeGenAI:
			genai = append(genai, d)
		case TypeRegex:
			regex = append(regex, d)
		case TypeKeyword:
			keyword = append(keyword, d)
		}
	}
	if len(genai)+len(regex)+len(keyword) == 0 {
		return SafeVerdict()
	}

	cfg := e.riskCfg.Get(ctx, auth.TenantID, auth.ApplicationID)

	var results []Match
	if len(genai) > 0 {
		results = append(results, e.executeGenAI(ctx, genai, messages, cfg)...)
	}
	results = append(results, e.executeRegex(regex, content)...)
	results = append(results, e.executeKeyword(keyword, content)...)

	// 命中后再过风险开关，关闭的标签不计入裁决
	for i := range results {
		if results[i].Matched && !cfg.Enabled(results[i].Tag) {
			results[i].Matched = false
			results[i].MatchDetails = ""
		}
	}

	return Aggregate(results)
}

// executeGenAI 把全部 GenAI 扫描器定义合并为一次模型调用。
// 超长内容按滑动窗口并行检测，任一窗口命中即视为命中。
func (e *Engine) executeGenAI(ctx context.Context, scanners []Definition, messages []types.Message, cfg riskconfig.Config) []Match {
	categories := JoinDefinitions(RenderDefinitions(scanners))
	windows := e.planner.Plan(messages)

	if len(windows) == 1 {
		label, sensitivity, err := e.model.CheckMessages(ctx, windows[0], categories)
		if err != nil {
			e.logger.Warn("genai scanner call failed, treating as safe", zap.Error(err))
			return unmatchedResults(scanners, TypeGenAI)
		}
		return e.parseLabel(scanners, label, sensitivity, cfg)
	}

	e.logger.Info("executing sliding window detection", zap.Int("windows", len(windows)))

	type windowResult struct {
		label       string
		sensitivity *float64
	}
	results := make([]windowResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			label, sensitivity, err := e.model.CheckMessages(gctx, w, categories)
			if err != nil {
				e.logger.Warn("window detection failed, treating as safe",
					zap.Int("window", i), zap.Error(err))
				label, sensitivity = "safe", nil
			}
			results[i] = windowResult{label: label, sensitivity: sensitivity}
			return nil
		})
	}
	_ = g.Wait()

	// 聚合：任一窗口命中即命中，取最高敏感度
	type tagInfo struct {
		windows     []int
		sensitivity *float64
	}
	matched := make(map[string]*tagInfo)
	for i, r := range results {
		for _, tag := range ParseUnsafeTags(r.label) {
			info, ok := matched[tag]
			if !ok {
				info = &tagInfo{}
				matched[tag] = info
			}
			info.windows = append(info.windows, i)
			if r.sensitivity != nil && (info.sensitivity == nil || *r.sensitivity > *info.sensitivity) {
				info.sensitivity = r.sensitivity
			}
		}
	}

	out := make([]Match, 0, len(scanners))
	for _, s := range scanners {
		m := Match{Tag: s.Tag, Name: s.Name, Type: TypeGenAI, RiskLevel: s.RiskLevel}
		if info, ok := matched[s.Tag]; ok && cfg.Triggered(info.sensitivity) {
			m.Matched = true
			m.Sensitivity = info.sensitivity
			m.MatchDetails = fmt.Sprintf("Matched in %d/%d windows", len(info.windows), len(windows))
			if info.sensitivity != nil {
				m.MatchDetails += fmt.Sprintf(", max sensitivity: %.4f", *info.sensitivity)
			}
		}
		out = append(out, m)
	}
	return out
}

// parseLabel 把模型标签解析为各扫描器的命中结果，
// 敏感度低于应用门限的命中按安全处理。
func (e *Engine) parseLabel(scanners []Definition, label string, sensitivity *float64, cfg riskconfig.Config) []Match {
	tags := ParseUnsafeTags(label)
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	out := make([]Match, 0, len(scanners))
	for _, s := range scanners {
		m := Match{Tag: s.Tag, Name: s.Name, Type: TypeGenAI, RiskLevel: s.RiskLevel}
		if tagSet[s.Tag] && cfg.Triggered(sensitivity) {
			m.Matched = true
			m.Sensitivity = sensitivity
			if sensitivity != nil {
				m.MatchDetails = fmt.Sprintf("Sensitivity: %.4f", *sensitivity)
			}
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) executeRegex(scanners []Definition, content string) []Match {
	out := make([]Match, 0, len(scanners))
	for _, s := range scanners {
		m := Match{Tag: s.Tag, Name: s.Name, Type: TypeRegex, RiskLevel: s.RiskLevel}
		re, err := e.compile(s.Definition)
		if err != nil {
			// 非法模式只隔离该扫描器，不影响整体检测
			e.logger.Warn("invalid regex scanner pattern",
				zap.String("tag", s.Tag), zap.Error(err))
			m.MatchDetails = "Error: invalid regex pattern"
			out = append(out, m)
			continue
		}
		matches := re.FindAllString(content, -1)
		if len(matches) > 0 {
			m.Matched = true
			samples := matches
			if len(samples) > 5 {
				samples = samples[:5]
			}
			m.MatchDetails = fmt.Sprintf("Matched %d times. Samples: %v", len(matches), samples)
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) executeKeyword(scanners []Definition, content string) []Match {
	lower := strings.ToLower(content)
	out := make([]Match, 0, len(scanners))
	for _, s := range scanners {
		m := Match{Tag: s.Tag, Name: s.Name, Type: TypeKeyword, RiskLevel: s.RiskLevel}
		var matched []string
		for _, kw := range strings.Split(s.Definition, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			m.Matched = true
			if len(matched) > 5 {
				matched = matched[:5]
			}
			m.MatchDetails = fmt.Sprintf("Matched keywords: %v", matched)
		}
		out = append(out, m)
	}
	return out
}

// LegacyDetect 用内置 S1-S21 分类目录做单次模型检测。
// 扫描器配置不可用时的兜底路径。
func (e *Engine) LegacyDetect(ctx context.Context, messages []types.Message, auth types.AuthContext) Verdict {
	lines := make([]string, 0, len(types.BuiltinCategoryNames))
	for tag, name := range types.BuiltinCategoryNames {
		lines = append(lines, tag+": "+name)
	}
	sortDefinitionLines(lines)

	label, sensitivity, err := e.model.CheckMessages(ctx, messages, JoinDefinitions(lines))
	if err != nil {
		e.logger.Warn("legacy detection failed, treating as safe", zap.Error(err))
		return SafeVerdict()
	}

	cfg := e.riskCfg.Get(ctx, auth.TenantID, auth.ApplicationID)
	tags := ParseUnsafeTags(label)
	if len(tags) == 0 || cfg.AllDisabled(tags) || !cfg.Triggered(sensitivity) {
		return SafeVerdict()
	}

	var results []Match
	for _, tag := range tags {
		if !cfg.Enabled(tag) {
			continue
		}
		level, ok := types.BuiltinRiskLevels[tag]
		if !ok {
			level = types.RiskLow
		}
		results = append(results, Match{
			Tag:         tag,
			Name:        types.BuiltinCategoryNames[tag],
			Type:        TypeGenAI,
			RiskLevel:   level,
			Matched:     true,
			Sensitivity: sensitivity,
		})
	}
	return Aggregate(results)
}

// ParseUnsafeTags 解析模型标签语法。"safe" 返回空；
// "unsafe\nS2,S9" 返回标签列表。
func ParseUnsafeTags(label string) []string {
	label = strings.TrimSpace(label)
	if !strings.HasPrefix(label, "unsafe") {
		return nil
	}
	_, line, ok := strings.Cut(label, "\n")
	if !ok {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(line, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Aggregate 聚合扫描器结果：总体风险取命中扫描器的最高等级，
// 安全维度只收 Prompt Attacks 标签，其余归合规维度。
func Aggregate(results []Match) Verdict {
	verdict := SafeVerdict()
	for _, r := range results {
		if !r.Matched {
			continue
		}
		verdict.Matched = append(verdict.Matched, r)
		verdict.OverallRiskLevel = types.MaxRiskLevel(verdict.OverallRiskLevel, r.RiskLevel)
		if types.IsSecurityTag(r.Tag) {
			verdict.Security.Categories = append(verdict.Security.Categories, r.Name)
			verdict.Security.RiskLevel = types.MaxRiskLevel(verdict.Security.RiskLevel, r.RiskLevel)
		} else {
			verdict.Compliance.Categories = append(verdict.Compliance.Categories, r.Name)
			verdict.Compliance.RiskLevel = types.MaxRiskLevel(verdict.Compliance.RiskLevel, r.RiskLevel)
		}
	}
	return verdict
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.regexCache[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.regexCache[pattern] = re
	e.mu.Unlock()
	return re, nil
}

func unmatchedResults(scanners []Definition, t Type) []Match {
	out := make([]Match, 0, len(scanners))
	for _, s := range scanners {
		out = append(out, Match{Tag: s.Tag, Name: s.Name, Type: t, RiskLevel: s.RiskLevel})
	}
	return out
}

func sortDefinitionLines(lines []string) {
	sort.SliceStable(lines, func(i, j int) bool {
		return definitionTagNumber(lines[i]) < definitionTagNumber(lines[j])
	})
}
