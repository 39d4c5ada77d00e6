package sandbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/internal/pool"
)

// ExecutorConfig 执行器配置。
type ExecutorConfig struct {
	Workers   int           `json:"workers" yaml:"workers"`
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	// Timeout 单个程序的硬超时
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultExecutorConfig 返回默认配置。
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:   4,
		QueueSize: 64,
		Timeout:   5 * time.Second,
	}
}

// Executor 在固定工作池上带硬超时执行脱敏程序。
type Executor struct {
	pool    *pool.WorkerPool
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor 创建执行器。
func NewExecutor(cfg ExecutorConfig, logger *zap.Logger) *Executor {
	def := DefaultExecutorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Executor{
		pool: pool.NewWorkerPool(pool.WorkerPoolConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
		}),
		timeout: cfg.Timeout,
		logger:  logger.With(zap.String("component", "sandbox_executor")),
	}
}

// Execute 校验并执行程序，返回脱敏结果。
// 校验失败、超时或池关闭时返回错误，调用方必须回退为固定占位符。
func (e *Executor) Execute(ctx context.Context, prog *Program, text string) (string, error) {
	if err := prog.Validate(); err != nil {
		return "", err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out string
	err := e.pool.SubmitWait(execCtx, func(taskCtx context.Context) error {
		out = prog.apply(text)
		return taskCtx.Err()
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("program execution timed out",
				zap.String("entity_type", prog.EntityType),
				zap.Duration("timeout", e.timeout))
			return "", ErrExecTimeout
		}
		return "", err
	}
	return out, nil
}

// ExecuteVerified 先做完整性与静态校验，再执行。
func (e *Executor) ExecuteVerified(ctx context.Context, serialized []byte, wantHash, text string) (string, error) {
	prog, err := ParseProgram(serialized, wantHash)
	if err != nil {
		return "", err
	}
	return e.Execute(ctx, prog, text)
}

// Close 关闭底层工作池，等待在途任务结束。
func (e *Executor) Close() {
	e.pool.Close()
}

// Stats 返回工作池计数。
func (e *Executor) Stats() pool.WorkerPoolStats {
	return e.pool.Stats()
}
