// =============================================================================
// 📦 OpenGuardrails 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("OPENGUARDRAILS").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openguardrails/openguardrails-sub000/guardrail"
	"github.com/openguardrails/openguardrails-sub000/internal/cache"
	"github.com/openguardrails/openguardrails-sub000/logsink"
	"github.com/openguardrails/openguardrails-sub000/modelclient"
	"github.com/openguardrails/openguardrails-sub000/scanner"
	"github.com/openguardrails/openguardrails-sub000/segment"
	"github.com/openguardrails/openguardrails-sub000/stream"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是检测服务的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Detection 检测流水线配置
	Detection DetectionConfig `yaml:"detection" env:"DETECTION"`

	// Model 检测模型配置
	Model ModelConfig `yaml:"model" env:"MODEL"`

	// Stream 流式检测配置
	Stream StreamConfig `yaml:"stream" env:"STREAM"`

	// Redis 配置缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 配置库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 检测日志归档
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// LogSink 检测日志队列
	LogSink LogSinkConfig `yaml:"log_sink" env:"LOG_SINK"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 限流 QPS
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// DetectionConfig 检测流水线配置（与 guardrail.Config 兼容）
type DetectionConfig struct {
	// 截断会话的最大字符数
	MaxContextLength int `yaml:"max_context_length" env:"MAX_CONTEXT_LENGTH"`
	// 智能分段单片段最大字符数
	MaxSegmentSize int `yaml:"max_segment_size" env:"MAX_SEGMENT_SIZE"`
	// 智能分段最小片段字符数
	MinSegmentSize int `yaml:"min_segment_size" env:"MIN_SEGMENT_SIZE"`
}

// GuardrailConfig 转换为编排器配置
func (d DetectionConfig) GuardrailConfig() guardrail.Config {
	return guardrail.Config{
		MaxContextLength: d.MaxContextLength,
		Segmenter: segment.SegmenterConfig{
			MaxSegmentSize: d.MaxSegmentSize,
			MinSegmentSize: d.MinSegmentSize,
		},
	}
}

// ScannerConfig 转换为扫描引擎配置
func (d DetectionConfig) ScannerConfig() scanner.Config {
	return scanner.Config{MaxContextLength: d.MaxContextLength}
}

// ModelConfig 检测模型配置（与 modelclient.Config 兼容）
type ModelConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 文本检测模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 多模态检测模型名称
	VLModel string `yaml:"vl_model" env:"VL_MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 限速 QPS，0 表示不限速
	RatePerSecond float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
	// 限速突发量
	Burst int `yaml:"burst" env:"BURST"`
}

// ClientConfig 转换为模型客户端配置
func (m ModelConfig) ClientConfig() modelclient.Config {
	return modelclient.Config{
		BaseURL:       m.BaseURL,
		APIKey:        m.APIKey,
		Model:         m.Model,
		VLModel:       m.VLModel,
		Timeout:       m.Timeout,
		RatePerSecond: m.RatePerSecond,
		Burst:         m.Burst,
	}
}

// StreamConfig 流式检测配置（与 stream.Config 兼容）
type StreamConfig struct {
	// 检测模式: async_bypass, sync_serial
	Mode string `yaml:"mode" env:"MODE"`
	// 累积多少块触发一次检测
	ChunkThreshold int `yaml:"chunk_threshold" env:"CHUNK_THRESHOLD"`
	// 是否把推理内容纳入检测
	EnableReasoningDetection bool `yaml:"enable_reasoning_detection" env:"ENABLE_REASONING_DETECTION"`
}

// DetectorConfig 转换为流式检测配置
func (s StreamConfig) DetectorConfig() stream.Config {
	return stream.Config{
		Mode:                     stream.Mode(s.Mode),
		ChunkThreshold:           s.ChunkThreshold,
		EnableReasoningDetection: s.EnableReasoningDetection,
	}
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 配置缓存默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// CacheConfig 转换为配置缓存管理器配置
func (r RedisConfig) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Addr = r.Addr
	cfg.Password = r.Password
	cfg.DB = r.DB
	if r.PoolSize > 0 {
		cfg.PoolSize = r.PoolSize
	}
	if r.MinIdleConns > 0 {
		cfg.MinIdleConns = r.MinIdleConns
	}
	if r.DefaultTTL > 0 {
		cfg.DefaultTTL = r.DefaultTTL
	}
	return cfg
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig 检测日志归档配置
type MongoConfig struct {
	// 是否启用 MongoDB 归档
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// LogSinkConfig 检测日志队列配置（与 logsink.Config 兼容）
type LogSinkConfig struct {
	// 队列容量
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 单条写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// SinkConfig 转换为日志写入器配置
func (l LogSinkConfig) SinkConfig() logsink.Config {
	return logsink.Config{
		QueueSize:    l.QueueSize,
		WriteTimeout: l.WriteTimeout,
	}
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "OPENGUARDRAILS",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	// 验证检测配置
	if c.Detection.MaxContextLength <= 0 {
		errs = append(errs, "max_context_length must be positive")
	}
	if c.Detection.MaxSegmentSize <= 0 {
		errs = append(errs, "max_segment_size must be positive")
	}

	// 验证流式检测配置
	if c.Stream.ChunkThreshold <= 0 {
		errs = append(errs, "chunk_threshold must be positive")
	}
	switch stream.Mode(c.Stream.Mode) {
	case stream.ModeAsyncBypass, stream.ModeSyncSerial:
	default:
		errs = append(errs, "invalid stream mode")
	}

	// 验证模型配置
	if c.Model.BaseURL == "" {
		errs = append(errs, "model base_url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
