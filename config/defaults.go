// =============================================================================
// 📦 OpenGuardrails 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Detection: DefaultDetectionConfig(),
		Model:     DefaultModelConfig(),
		Stream:    DefaultStreamConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		LogSink:   DefaultLogSinkConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        5001,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDetectionConfig 返回默认检测流水线配置
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MaxContextLength: 7168,
		MaxSegmentSize:   4000,
		MinSegmentSize:   100,
	}
}

// DefaultModelConfig 返回默认检测模型配置
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		BaseURL:       "http://localhost:8000/v1",
		APIKey:        "",
		Model:         "OpenGuardrails-Text",
		VLModel:       "OpenGuardrails-VL",
		Timeout:       30 * time.Second,
		RatePerSecond: 0,
		Burst:         1,
	}
}

// DefaultStreamConfig 返回默认流式检测配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Mode:                     "async_bypass",
		ChunkThreshold:           50,
		EnableReasoningDetection: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DefaultTTL:   5 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "openguardrails",
		Password:        "",
		Name:            "openguardrails",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认日志归档配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Enabled:    false,
		URI:        "mongodb://localhost:27017",
		Database:   "openguardrails",
		Collection: "detection_results",
	}
}

// DefaultLogSinkConfig 返回默认检测日志队列配置
func DefaultLogSinkConfig() LogSinkConfig {
	return LogSinkConfig{
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "openguardrails-detection",
		SampleRate:   0.1,
	}
}
