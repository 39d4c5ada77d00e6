// Package stream 对流式模型输出做分块检测。
// 支持两种模式：async_bypass 旁路检测不阻塞释放，仅用于审计；
// sync_serial 串行检测阻塞流，命中风险立即停流并替换缓冲内容。
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/answer"
	"github.com/openguardrails/openguardrails-sub000/entity"
	"github.com/openguardrails/openguardrails-sub000/types"
)

// Mode 流式检测模式。
type Mode string

const (
	ModeAsyncBypass Mode = "async_bypass"
	ModeSyncSerial  Mode = "sync_serial"
)

// ResponseChecker 对累积输出执行完整检测。
type ResponseChecker interface {
	CheckResponse(ctx context.Context, messages []types.Message, requestID string, auth types.AuthContext) (*types.DetectionResult, error)
}

// DataActionFunc 查询数据泄露风险在输出方向的处置动作。
type DataActionFunc func(ctx context.Context, level types.RiskLevel, auth types.AuthContext) types.SuggestAction

// Config 分块检测配置。
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// ChunkThreshold 累积多少块触发一次检测
	ChunkThreshold int `json:"chunk_threshold" yaml:"chunk_threshold"`
	// EnableReasoningDetection 是否把推理内容纳入检测
	EnableReasoningDetection bool `json:"enable_reasoning_detection" yaml:"enable_reasoning_detection"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Mode:                     ModeAsyncBypass,
		ChunkThreshold:           50,
		EnableReasoningDetection: true,
	}
}

// ChunkDetector 单个流式响应的检测状态机。
// 由创建它的流独占，方法不做跨流并发保护；异步检测任务由
// 内部任务组持有，Close 时等待全部完成。
type ChunkDetector struct {
	cfg     Config
	checker ResponseChecker
	dataFor DataActionFunc
	logger  *zap.Logger

	auth          types.AuthContext
	requestID     string
	inputMessages []types.Message

	buffer      []string
	chunkCount  int
	fullContent strings.Builder

	riskDetected  bool
	shouldStop    bool
	allChunksSafe bool
	lastChunkHeld string
	hasHeldChunk  bool
	result        *types.DetectionResult

	restore *entity.StreamingRestoreBuffer

	tasks sync.WaitGroup
}

// NewChunkDetector 为一次流式响应创建检测器。
// inputMessages 为原始请求会话，检测时在其后追加累积的助手输出。
// dataFor 可为 nil，此时 DLP 输出处置检查被跳过。
func NewChunkDetector(cfg Config, checker ResponseChecker, dataFor DataActionFunc,
	inputMessages []types.Message, requestID string, auth types.AuthContext, logger *zap.Logger) *ChunkDetector {
	def := DefaultConfig()
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = def.ChunkThreshold
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	return &ChunkDetector{
		cfg:           cfg,
		checker:       checker,
		dataFor:       dataFor,
		logger:        logger.With(zap.String("component", "stream_detector"), zap.String("request_id", requestID)),
		auth:          auth,
		requestID:     requestID,
		inputMessages: inputMessages,
	}
}

// WithRestoreMapping 启用占位符还原：切私有模型前做过可还原脱敏时,
// 模型输出中的占位符需在释放给调用方前换回原文。
func (d *ChunkDetector) WithRestoreMapping(mapping map[string]string) *ChunkDetector {
	d.restore = entity.NewStreamingRestoreBuffer(mapping)
	return d
}

// FilterChunk 对单块输出做占位符还原。未启用还原时原样返回。
// 跨块占位符尾部会被暂存，在后续块或 FlushRestore 时补出。
func (d *ChunkDetector) FilterChunk(chunk string) string {
	if d.restore == nil {
		return chunk
	}
	return d.restore.ProcessChunk(chunk)
}

// FlushRestore 释放还原缓冲中暂存的尾部内容。
func (d *ChunkDetector) FlushRestore() string {
	if d.restore == nil {
		return ""
	}
	return d.restore.Flush()
}

// AddChunk 追加一块输出，达到阈值时触发检测，返回是否停流。
// 推理内容仅在开关打开时纳入；工具调用内容始终纳入检测。
func (d *ChunkDetector) AddChunk(ctx context.Context, content, reasoning, toolCalls string) bool {
	if strings.TrimSpace(content) == "" &&
		strings.TrimSpace(reasoning) == "" &&
		strings.TrimSpace(toolCalls) == "" {
		return false
	}

	d.appendContent(content)
	if strings.TrimSpace(reasoning) != "" && d.cfg.EnableReasoningDetection {
		d.appendContent(reasoning)
	}
	if strings.TrimSpace(toolCalls) != "" {
		d.appendContent(toolCalls)
	}
	d.chunkCount++

	if d.chunkCount < d.cfg.ChunkThreshold {
		return false
	}
	if d.cfg.Mode == ModeAsyncBypass {
		d.spawnAsyncDetection(ctx, false)
		return false
	}
	return d.syncDetection(ctx)
}

// FinalDetection 流自然结束时检测剩余缓冲。串行模式下通过后
// 标记全部安全，允许释放被扣留的最后一块。
func (d *ChunkDetector) FinalDetection(ctx context.Context) bool {
	if len(d.buffer) == 0 || d.riskDetected {
		return false
	}
	if d.cfg.Mode == ModeAsyncBypass {
		d.spawnAsyncDetection(ctx, true)
		return false
	}
	stop := d.syncDetection(ctx)
	if !stop {
		d.allChunksSafe = true
	}
	return stop
}

// CanReleaseLastChunk 报告是否可以释放最后一块。
// 旁路模式始终放行；串行模式要等终检确认全部安全。
func (d *ChunkDetector) CanReleaseLastChunk() bool {
	if d.cfg.Mode == ModeAsyncBypass {
		return true
	}
	return d.allChunksSafe && !d.riskDetected
}

// HoldLastChunk 串行模式下扣留最后一块，等待终检放行。
func (d *ChunkDetector) HoldLastChunk(chunk string) {
	if d.cfg.Mode != ModeSyncSerial {
		return
	}
	d.lastChunkHeld = chunk
	d.hasHeldChunk = true
}

// TakeHeldChunk 取出并清空被扣留的最后一块。
func (d *ChunkDetector) TakeHeldChunk() (string, bool) {
	if !d.hasHeldChunk {
		return "", false
	}
	chunk := d.lastChunkHeld
	d.lastChunkHeld = ""
	d.hasHeldChunk = false
	return chunk, true
}

// ShouldStop 报告流是否应当终止。
func (d *ChunkDetector) ShouldStop() bool { return d.shouldStop }

// Result 返回触发停流的检测结果，未停流时为 nil。
func (d *ChunkDetector) Result() *types.DetectionResult { return d.result }

// FullContent 返回累积的全部检测内容。
func (d *ChunkDetector) FullContent() string { return d.fullContent.String() }

// Close 等待全部旁路检测任务结束。
func (d *ChunkDetector) Close() {
	d.tasks.Wait()
}

func (d *ChunkDetector) appendContent(s string) {
	d.buffer = append(d.buffer, s)
	d.fullContent.WriteString(s)
}

func (d *ChunkDetector) detectionMessages() []types.Message {
	accumulated := strings.Join(d.buffer, "")
	messages := make([]types.Message, 0, len(d.inputMessages)+1)
	messages = append(messages, d.inputMessages...)
	return append(messages, types.NewAssistantMessage(accumulated))
}

func (d *ChunkDetector) spawnAsyncDetection(ctx context.Context, final bool) {
	messages := d.detectionMessages()
	requestID := fmt.Sprintf("%s_stream_async_%d", d.requestID, d.chunkCount)
	d.buffer = nil
	d.chunkCount = 0

	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		result, err := d.checker.CheckResponse(context.WithoutCancel(ctx), messages, requestID, d.auth)
		if err != nil {
			d.logger.Warn("bypass detection failed", zap.Error(err))
			return
		}
		if result != nil && (result.SuggestAction == types.ActionReject || result.SuggestAction == types.ActionReplace) {
			// 旁路模式只审计不拦截
			d.logger.Info("bypass detection found risk, not blocking",
				zap.String("overall_risk_level", string(result.OverallRiskLevel)),
				zap.Bool("final", final))
		}
	}()
}

func (d *ChunkDetector) syncDetection(ctx context.Context) bool {
	messages := d.detectionMessages()
	requestID := fmt.Sprintf("%s_stream_sync_%d", d.requestID, d.chunkCount)

	result, err := d.checker.CheckResponse(ctx, messages, requestID, d.auth)
	if err != nil {
		// 检测失败不阻塞流
		d.logger.Warn("serial detection failed, releasing stream", zap.Error(err))
		d.buffer = nil
		d.chunkCount = 0
		return false
	}

	if result.SuggestAction == types.ActionReject || result.SuggestAction == types.ActionReplace {
		d.riskDetected = true
		d.shouldStop = true
		d.result = result
		return true
	}

	if result.Data.RiskLevel != types.RiskNone && d.dataFor != nil {
		if d.dataFor(ctx, result.Data.RiskLevel, d.auth) == types.ActionBlock {
			d.riskDetected = true
			d.shouldStop = true
			dlp := *result
			dlp.SuggestAction = types.ActionBlock
			dlp.SuggestAnswer = answer.DataLeakageAnswer(d.auth.Lang())
			d.result = &dlp
			return true
		}
	}

	d.buffer = nil
	d.chunkCount = 0
	return false
}
