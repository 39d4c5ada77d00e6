// Package guardrail 编排完整的检测流水线：
// 截断 → 黑白名单预检 → 数据防泄漏 → 扫描器检测 → 处置决策 → 答案选择，
// 并异步落盘检测记录、触发封禁策略钩子。
//
// 流水线整体失败安全：任一检测阶段故障按无风险处理，
// 只有请求上下文取消会中断检测。
package guardrail

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openguardrails/openguardrails-sub000/answer"
	"github.com/openguardrails/openguardrails-sub000/disposal"
	"github.com/openguardrails/openguardrails-sub000/entity"
	"github.com/openguardrails/openguardrails-sub000/format"
	"github.com/openguardrails/openguardrails-sub000/internal/metrics"
	"github.com/openguardrails/openguardrails-sub000/keyword"
	"github.com/openguardrails/openguardrails-sub000/logsink"
	"github.com/openguardrails/openguardrails-sub000/scanner"
	"github.com/openguardrails/openguardrails-sub000/segment"
	"github.com/openguardrails/openguardrails-sub000/types"
)

// BanPolicy 检测后封禁策略钩子。中高风险命中时异步触发。
type BanPolicy interface {
	CheckAndApplyBanPolicy(ctx context.Context, tenantID, userID string, riskLevel types.RiskLevel, detectionID string) error
}

// Config 编排器配置。
type Config struct {
	// MaxContextLength 截断会话的最大字符数
	MaxContextLength int `json:"max_context_length" yaml:"max_context_length"`
	// Segmenter 智能分段配置
	Segmenter segment.SegmenterConfig `json:"segmenter" yaml:"segmenter"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxContextLength: 7168,
		Segmenter:        segment.DefaultSegmenterConfig(),
	}
}

// Dependencies 编排器的协作方。Logs、Ban、Metrics 可为 nil。
type Dependencies struct {
	Keywords *keyword.Index
	Entities *entity.Detector
	Scanners *scanner.Engine
	Disposal *disposal.Engine
	Answers  *answer.Selector
	Logs     *logsink.Logger
	Ban      BanPolicy
	Metrics  *metrics.Collector
}

// Orchestrator 检测流水线编排器。
type Orchestrator struct {
	cfg       Config
	keywords  *keyword.Index
	entities  *entity.Detector
	scanners  *scanner.Engine
	disposal  *disposal.Engine
	answers   *answer.Selector
	logs      *logsink.Logger
	ban       BanPolicy
	metrics   *metrics.Collector
	formats   *format.Detector
	segmenter *segment.Segmenter
	tracer    trace.Tracer
	logger    *zap.Logger

	tasks sync.WaitGroup
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(cfg Config, deps Dependencies, logger *zap.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = def.MaxContextLength
	}
	return &Orchestrator{
		cfg:       cfg,
		keywords:  deps.Keywords,
		entities:  deps.Entities,
		scanners:  deps.Scanners,
		disposal:  deps.Disposal,
		answers:   deps.Answers,
		logs:      deps.Logs,
		ban:       deps.Ban,
		metrics:   deps.Metrics,
		formats:   format.NewDetector(),
		segmenter: segment.NewSegmenter(cfg.Segmenter),
		tracer:    otel.Tracer("github.com/openguardrails/openguardrails-sub000/guardrail"),
		logger:    logger.With(zap.String("component", "guardrail")),
	}
}

// CheckGuardrails 对一段会话执行完整检测并返回处置建议。
func (o *Orchestrator) CheckGuardrails(ctx context.Context, messages []types.Message, auth types.AuthContext) *types.DetectionResult {
	return o.check(ctx, NewRequestID(), messages, auth)
}

// CheckResponse 对包含模型输出的会话执行检测，供流式检测复用。
// 仅在请求上下文已取消时返回错误。
func (o *Orchestrator) CheckResponse(ctx context.Context, messages []types.Message, requestID string, auth types.AuthContext) (*types.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = NewRequestID()
	}
	return o.check(ctx, requestID, messages, auth), nil
}

// OutputDataAction 查询数据风险在输出方向的处置动作，
// 签名与 stream.DataActionFunc 兼容。
func (o *Orchestrator) OutputDataAction(ctx context.Context, level types.RiskLevel, auth types.AuthContext) types.SuggestAction {
	pol := o.disposal.ResolvePolicy(ctx, auth)
	return pol.DataActionFor(level, types.DirectionOutput)
}

// Close 等待全部异步封禁任务结束。不关闭注入的日志记录器。
func (o *Orchestrator) Close() {
	o.tasks.Wait()
}

func (o *Orchestrator) check(ctx context.Context, requestID string, messages []types.Message, auth types.AuthContext) *types.DetectionResult {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "guardrail.check")
	defer span.End()

	truncated := TruncateMessages(messages, o.cfg.MaxContextLength)
	if !hasDetectableContent(truncated) {
		o.logger.Warn("no valid messages after truncation", zap.String("request_id", requestID))
		result := types.NewSafeResult(requestID)
		o.finish(ctx, result, auth, types.DirectionInput, "", false, start)
		return result
	}

	direction := detectDirection(truncated)
	userContent := strings.Join(types.UserContents(truncated), "\n")
	hasImage := types.HasImages(truncated)

	// 黑白名单预检：黑名单命中立即拦截，白名单命中立即放行，
	// 两者都跳过后续全部检测。
	if result := o.checkKeywords(ctx, requestID, userContent, auth); result != nil {
		o.finish(ctx, result, auth, direction, userContent, hasImage, start)
		return result
	}

	pol := o.disposal.ResolvePolicy(ctx, auth)
	dataText := contentForDirection(truncated, direction)

	dataRes := o.detectData(ctx, auth, dataText, direction, pol)
	verdict := o.scanContent(ctx, dataText, truncated, direction, auth)

	decision := o.disposal.Decide(ctx,
		disposal.GeneralRisk{Compliance: verdict.Compliance, Security: verdict.Security},
		disposal.DataRisk{RiskLevel: dataRes.RiskLevel, Categories: dataRes.Categories},
		direction, auth)

	result := o.buildResult(ctx, requestID, verdict, dataRes, dataText, decision, userContent, auth)
	o.finish(ctx, result, auth, direction, userContent, hasImage, start)
	return result
}

// checkKeywords 执行黑白名单预检。未命中或索引故障返回 nil。
func (o *Orchestrator) checkKeywords(ctx context.Context, requestID, userContent string, auth types.AuthContext) *types.DetectionResult {
	ctx, end := o.stage(ctx, "keyword")
	defer end()

	hit, err := o.keywords.Match(ctx, auth, userContent)
	if err != nil {
		o.logger.Warn("keyword precheck failed, continuing",
			zap.String("request_id", requestID), zap.Error(err))
		return nil
	}
	if hit == nil {
		return nil
	}

	result := types.NewSafeResult(requestID)
	if hit.List.Kind == keyword.KindWhitelist {
		o.logger.Debug("whitelist hit",
			zap.String("request_id", requestID), zap.String("list", hit.List.Name))
		return result
	}

	result.Compliance = types.CategoryResult{
		RiskLevel:  hit.List.RiskLevel,
		Categories: []string{hit.List.Name},
	}
	result.RecomputeOverall()
	result.SuggestAction = types.ActionReject
	result.SuggestAnswer = o.answers.SuggestAnswer(ctx, nil, userContent, auth)
	result.SuggestAnswer = o.answers.AppendAppealLink(ctx, result.SuggestAnswer, requestID, auth)

	o.logger.Info("blacklist hit",
		zap.String("request_id", requestID),
		zap.String("list", hit.List.Name),
		zap.String("keyword", hit.Keyword))
	return result
}

// detectData 执行数据防泄漏检测。智能分段开启时按格式切分后
// 逐段检测再合并，检测故障按无风险处理。
func (o *Orchestrator) detectData(ctx context.Context, auth types.AuthContext, text string, direction types.DetectionDirection, pol disposal.ResolvedPolicy) *entity.Result {
	ctx, end := o.stage(ctx, "data")
	defer end()

	empty := &entity.Result{
		RiskLevel:      types.RiskNone,
		Categories:     []string{},
		Entities:       []types.SensitiveEntity{},
		AnonymizedText: text,
	}
	if text == "" {
		return empty
	}

	if pol.SmartSegmentationEnabled() {
		var md format.Metadata
		if pol.FormatDetectionEnabled() {
			md = o.formats.Detect(text)
		}
		if segments := o.segmenter.Segment(text, md); len(segments) > 1 {
			return o.detectSegmented(ctx, auth, text, segments, direction, empty)
		}
	}

	res, err := o.entities.Detect(ctx, auth, text, direction)
	if err != nil {
		o.logger.Warn("data leak detection failed, treating as safe", zap.Error(err))
		return empty
	}
	return res
}

// detectSegmented 并行检测所有片段并合并结果。
// 实体偏移换算回原文坐标；片段重叠（如 JSON 补回的定界符）
// 可能产出重复实体，按 (start, end, type) 去重。
func (o *Orchestrator) detectSegmented(ctx context.Context, auth types.AuthContext, text string, segments []segment.Segment, direction types.DetectionDirection, empty *entity.Result) *entity.Result {
	merged := &entity.Result{
		RiskLevel:      types.RiskNone,
		Categories:     []string{},
		Entities:       []types.SensitiveEntity{},
		AnonymizedText: text,
	}

	results := make([]*entity.Result, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		g.Go(func() error {
			res, err := o.entities.Detect(gctx, auth, seg.Content, direction)
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.Index, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("segmented data leak detection failed, treating as safe", zap.Error(err))
		return empty
	}

	seenCat := make(map[string]struct{})
	seenEnt := make(map[entityKey]struct{})
	for i, res := range results {
		for _, e := range res.Entities {
			e.Start += segments[i].OriginalStart
			e.End += segments[i].OriginalStart
			key := entityKey{start: e.Start, end: e.End, entityType: e.EntityType}
			if _, ok := seenEnt[key]; ok {
				continue
			}
			seenEnt[key] = struct{}{}
			merged.Entities = append(merged.Entities, e)
			merged.RiskLevel = types.MaxRiskLevel(merged.RiskLevel, e.RiskLevel)
			if _, ok := seenCat[e.EntityType]; !ok {
				seenCat[e.EntityType] = struct{}{}
				merged.Categories = append(merged.Categories, e.EntityType)
			}
		}
	}

	sort.Slice(merged.Entities, func(i, j int) bool { return merged.Entities[i].Start < merged.Entities[j].Start })
	sort.Strings(merged.Categories)
	if len(merged.Entities) > 0 {
		merged.AnonymizedText, _ = entity.AnonymizeContent(text, merged.Entities, entity.ActionAnonymize)
	}
	return merged
}

// entityKey 合并片段结果时的实体去重键。
type entityKey struct {
	start, end int
	entityType string
}

func (o *Orchestrator) scanContent(ctx context.Context, content string, messages []types.Message, direction types.DetectionDirection, auth types.AuthContext) scanner.Verdict {
	ctx, end := o.stage(ctx, "scan")
	defer end()
	return o.scanners.Execute(ctx, content, messages, direction, auth)
}

func (o *Orchestrator) buildResult(ctx context.Context, requestID string, verdict scanner.Verdict, dataRes *entity.Result, dataText string, decision disposal.Decision, userContent string, auth types.AuthContext) *types.DetectionResult {
	result := types.NewSafeResult(requestID)
	result.Compliance = verdict.Compliance
	result.Security = verdict.Security
	result.Data = types.CategoryResult{RiskLevel: dataRes.RiskLevel, Categories: dataRes.Categories}
	result.Entities = dataRes.Entities
	result.OverallRiskLevel = decision.OverallRiskLevel
	result.SuggestAction = decision.Action
	result.Score = maxSensitivity(verdict.Matched)

	switch decision.Action {
	case types.ActionReject, types.ActionReplace:
		categories := append(append([]string{}, verdict.Compliance.Categories...), verdict.Security.Categories...)
		result.SuggestAnswer = o.answers.SuggestAnswer(ctx, categories, userContent, auth)
		result.SuggestAnswer = o.answers.AppendAppealLink(ctx, result.SuggestAnswer, requestID, auth)

	case types.ActionBlock:
		result.SuggestAnswer = answer.DataLeakageAnswer(auth.Lang())

	case types.ActionAnonymize:
		result.AnonymizedContent = dataRes.AnonymizedText

	case types.ActionAnonymizeRestore:
		result.AnonymizedContent, result.RestoreMapping = entity.AnonymizeContent(dataText, dataRes.Entities, entity.ActionAnonymizeRestore)

	case types.ActionSwitchPrivateModel:
		// 切私有模型前做可还原脱敏，流结束后按映射还原
		result.AnonymizedContent, result.RestoreMapping = entity.AnonymizeContent(dataText, dataRes.Entities, entity.ActionAnonymizeRestore)
		if decision.PrivateModel != nil {
			result.SwitchModel = decision.PrivateModel.Model
		}
	}
	return result
}

// finish 落盘记录、触发封禁钩子并记录指标。
func (o *Orchestrator) finish(ctx context.Context, result *types.DetectionResult, auth types.AuthContext, direction types.DetectionDirection, content string, hasImage bool, start time.Time) {
	if o.logs != nil {
		o.logs.Log(logsink.DetectionRecord{
			RequestID:            result.RequestID,
			TenantID:             auth.TenantID,
			ApplicationID:        auth.ApplicationID,
			UserID:               auth.UserID,
			Direction:            direction,
			Content:              content,
			HasImage:             hasImage,
			OverallRiskLevel:     result.OverallRiskLevel,
			SuggestAction:        result.SuggestAction,
			SuggestAnswer:        result.SuggestAnswer,
			ComplianceRiskLevel:  result.Compliance.RiskLevel,
			ComplianceCategories: result.Compliance.Categories,
			SecurityRiskLevel:    result.Security.RiskLevel,
			SecurityCategories:   result.Security.Categories,
			DataRiskLevel:        result.Data.RiskLevel,
			DataCategories:       result.Data.Categories,
		})
	}

	if o.ban != nil && result.OverallRiskLevel.AtLeast(types.RiskMedium) {
		banCtx := context.WithoutCancel(ctx)
		o.tasks.Add(1)
		go func() {
			defer o.tasks.Done()
			if err := o.ban.CheckAndApplyBanPolicy(banCtx, auth.TenantID, auth.UserID, result.OverallRiskLevel, result.RequestID); err != nil {
				o.logger.Warn("ban policy check failed",
					zap.String("request_id", result.RequestID), zap.Error(err))
			}
		}()
	}

	if o.metrics != nil {
		o.metrics.RecordDetection(string(direction), string(result.OverallRiskLevel), string(result.SuggestAction), time.Since(start))
	}
}

// stage 开启流水线阶段 span，返回结束函数。
func (o *Orchestrator) stage(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "guardrail."+name)
	return ctx, func() {
		span.End()
		if o.metrics != nil {
			o.metrics.RecordStage(name, time.Since(start))
		}
	}
}

func maxSensitivity(matched []scanner.Match) float64 {
	var max float64
	for _, m := range matched {
		if m.Sensitivity != nil && *m.Sensitivity > max {
			max = *m.Sensitivity
		}
	}
	return max
}
