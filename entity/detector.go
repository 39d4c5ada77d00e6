package entity

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// Result 敏感数据检测结果。
type Result struct {
	RiskLevel      types.RiskLevel         `json:"risk_level"`
	Categories     []string                `json:"categories"`
	Entities       []types.SensitiveEntity `json:"detected_entities"`
	AnonymizedText string                  `json:"anonymized_text"`
}

// Detector 敏感数据实体检测器。
type Detector struct {
	provider Provider
	deps     Dependencies
	logger   *zap.Logger

	mu         sync.RWMutex
	regexCache map[string]*regexp.Regexp
}

// NewDetector 创建实体检测器。deps 的任一协作者可缺省，
// 缺省行为见 Dependencies 文档。
func NewDetector(provider Provider, deps Dependencies, logger *zap.Logger) *Detector {
	return &Detector{
		provider:   provider,
		deps:       deps,
		logger:     logger.With(zap.String("component", "entity_detector")),
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Detect 对文本执行指定方向的敏感数据检测。
// 单个实体类型的失败（非法正则、模型抽取出错）只使该类型失效，
// 不影响其他类型。
func (d *Detector) Detect(ctx context.Context, auth types.AuthContext, text string, direction types.DetectionDirection) (*Result, error) {
	result := &Result{
		RiskLevel:      types.RiskNone,
		Categories:     []string{},
		Entities:       []types.SensitiveEntity{},
		AnonymizedText: text,
	}
	if text == "" {
		return result, nil
	}

	entityTypes, err := d.provider.EntityTypes(ctx, auth.TenantID, auth.ApplicationID)
	if err != nil {
		return nil, err
	}

	var candidates []types.SensitiveEntity
	categories := make(map[string]struct{})

	for _, et := range entityTypes {
		if !et.Enabled || !et.AppliesTo(direction) {
			continue
		}
		switch et.RecognitionMethod() {
		case RecognitionGenAI:
			candidates = append(candidates, d.detectGenAI(ctx, et, text)...)
		default:
			candidates = append(candidates, d.detectRegex(ctx, et, text)...)
		}
	}

	result.Entities = dedupeEntities(candidates)
	for _, e := range result.Entities {
		categories[e.EntityType] = struct{}{}
		result.RiskLevel = types.MaxRiskLevel(result.RiskLevel, e.RiskLevel)
	}
	for c := range categories {
		result.Categories = append(result.Categories, c)
	}
	sort.Strings(result.Categories)

	result.AnonymizedText = replaceEntities(text, result.Entities)
	return result, nil
}

// detectRegex 按正则模式识别单个实体类型的所有实例。
func (d *Detector) detectRegex(ctx context.Context, et Type, text string) []types.SensitiveEntity {
	if et.Pattern == "" {
		return nil
	}
	re, err := d.compile(et.Pattern)
	if err != nil {
		d.logger.Warn("invalid entity pattern, type skipped",
			zap.String("entity_type", et.Code), zap.Error(err))
		return nil
	}
	var found []types.SensitiveEntity
	for _, loc := range re.FindAllStringIndex(text, -1) {
		matched := text[loc[0]:loc[1]]
		found = append(found, types.SensitiveEntity{
			EntityType:      et.Code,
			Text:            matched,
			Start:           loc[0],
			End:             loc[1],
			RiskLevel:       et.RiskLevel,
			AnonymizedValue: anonymizeValue(ctx, et, matched, d.deps),
			FromMask:        et.Method == MethodMask,
		})
	}
	return found
}

// detectGenAI 用抽取模型识别单个实体类型的实例，再在原文中定位
// 字面量得到偏移。重复字面量按出现顺序依次定位。抽取失败只记录
// 告警，该类型本次不产出实体。
func (d *Detector) detectGenAI(ctx context.Context, et Type, text string) []types.SensitiveEntity {
	if d.deps.Extractor == nil || et.Definition == "" {
		return nil
	}
	literals, err := d.deps.Extractor.ExtractEntities(ctx, et.Code, et.Definition, text)
	if err != nil {
		d.logger.Warn("entity extraction failed, type skipped",
			zap.String("entity_type", et.Code), zap.Error(err))
		return nil
	}

	var found []types.SensitiveEntity
	searchFrom := make(map[string]int)
	for _, lit := range literals {
		if lit == "" {
			continue
		}
		rel := strings.Index(text[searchFrom[lit]:], lit)
		if rel < 0 {
			// 模型返回了原文中不存在的字面量
			continue
		}
		start := searchFrom[lit] + rel
		end := start + len(lit)
		searchFrom[lit] = end
		found = append(found, types.SensitiveEntity{
			EntityType:      et.Code,
			Text:            lit,
			Start:           start,
			End:             end,
			RiskLevel:       et.RiskLevel,
			AnonymizedValue: anonymizeValue(ctx, et, lit, d.deps),
			FromMask:        et.Method == MethodMask,
		})
	}
	return found
}

func (d *Detector) compile(pattern string) (*regexp.Regexp, error) {
	d.mu.RLock()
	re, ok := d.regexCache[pattern]
	d.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.regexCache[pattern] = re
	d.mu.Unlock()
	return re, nil
}

// dedupeEntities 消解重叠实体：跨度长者优先，等长时 mask 方法
// 优先于其他方法，仍相等时保留先发现者。返回按起点升序的不重叠集合。
func dedupeEntities(candidates []types.SensitiveEntity) []types.SensitiveEntity {
	if len(candidates) == 0 {
		return []types.SensitiveEntity{}
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := candidates[order[a]], candidates[order[b]]
		if ea.Len() != eb.Len() {
			return ea.Len() > eb.Len()
		}
		if ea.FromMask != eb.FromMask {
			return ea.FromMask
		}
		return order[a] < order[b]
	})

	var kept []types.SensitiveEntity
	for _, idx := range order {
		e := candidates[idx]
		overlaps := false
		for _, k := range kept {
			if e.Start < k.End && k.Start < e.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, e)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// replaceEntities 按起点从后向前替换，避免偏移失效。
// 入参实体须不重叠。
func replaceEntities(text string, entities []types.SensitiveEntity) string {
	if len(entities) == 0 {
		return text
	}
	sorted := make([]types.SensitiveEntity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	out := text
	for _, e := range sorted {
		if e.Start < 0 || e.End > len(out) || e.Start > e.End {
			continue
		}
		out = out[:e.Start] + e.AnonymizedValue + out[e.End:]
	}
	return out
}
