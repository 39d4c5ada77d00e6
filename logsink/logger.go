package logsink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config 异步记录器配置。
type Config struct {
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
	}
}

// Logger 检测记录的异步写入器。
// Log 只入队不等待，后台单工作协程顺序写 Sink，Close 时清空队列。
type Logger struct {
	sink    Sink
	timeout time.Duration
	logger  *zap.Logger

	queue chan DetectionRecord
	done  chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64
	written   atomic.Int64
}

// NewLogger 创建异步记录器并启动工作协程。
func NewLogger(sink Sink, cfg Config, logger *zap.Logger) *Logger {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	l := &Logger{
		sink:    sink,
		timeout: cfg.WriteTimeout,
		logger:  logger.With(zap.String("component", "logsink")),
		queue:   make(chan DetectionRecord, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Log 异步记录一条检测结果。队列满或已关闭时丢弃并计数。
func (l *Logger) Log(record DetectionRecord) {
	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}
	record.Sanitize()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	select {
	case l.queue <- record:
	default:
		l.dropped.Add(1)
		l.logger.Warn("detection log queue full, record dropped",
			zap.String("request_id", record.RequestID))
	}
}

// Close 停止接收新记录并写完队列中剩余的记录。
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.queue)
		<-l.done
	})
}

// Stats 返回写入与丢弃计数。
func (l *Logger) Stats() (written, dropped int64) {
	return l.written.Load(), l.dropped.Load()
}

func (l *Logger) run() {
	defer close(l.done)
	for record := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.sink.Write(ctx, record); err != nil {
			l.logger.Warn("detection log write failed",
				zap.String("request_id", record.RequestID), zap.Error(err))
		} else {
			l.written.Add(1)
		}
		cancel()
	}
}
