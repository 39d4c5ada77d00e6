// Package riskconfig 管理应用级风险类型开关与敏感度门限。
// 检测到的标签先过开关，再按应用的触发等级对敏感度打分做门限判断。
package riskconfig

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TriggerLevel 敏感度触发等级。等级越高门限越低，越容易触发。
type TriggerLevel string

const (
	TriggerLow    TriggerLevel = "low"
	TriggerMedium TriggerLevel = "medium"
	TriggerHigh   TriggerLevel = "high"
)

// 各触发等级对应的敏感度门限。得分不低于门限才算命中。
var triggerThresholds = map[TriggerLevel]float64{
	TriggerLow:    0.95,
	TriggerMedium: 0.60,
	TriggerHigh:   0.40,
}

// Config 单个应用的风险配置。
type Config struct {
	// Switches 标签到开关的映射，缺省标签视为开启
	Switches map[string]bool `json:"switches" yaml:"switches"`
	// TriggerLevel 敏感度触发等级
	TriggerLevel TriggerLevel `json:"trigger_level" yaml:"trigger_level"`
}

// DefaultConfig 返回默认配置：全部标签开启，触发等级 medium。
func DefaultConfig() Config {
	return Config{
		Switches:     map[string]bool{},
		TriggerLevel: TriggerMedium,
	}
}

// Enabled 报告标签是否开启。未配置的标签默认开启。
func (c Config) Enabled(tag string) bool {
	enabled, ok := c.Switches[tag]
	if !ok {
		return true
	}
	return enabled
}

// AllDisabled 报告给定标签集合是否全部被关闭。
func (c Config) AllDisabled(tags []string) bool {
	if len(tags) == 0 {
		return false
	}
	for _, tag := range tags {
		if c.Enabled(tag) {
			return false
		}
	}
	return true
}

// Threshold 返回当前触发等级的敏感度门限。
func (c Config) Threshold() float64 {
	if t, ok := triggerThresholds[c.TriggerLevel]; ok {
		return t
	}
	return triggerThresholds[TriggerMedium]
}

// Triggered 报告敏感度得分是否达到触发门限。
// score 为 nil 表示模型未返回置信度，视为触发。
func (c Config) Triggered(score *float64) bool {
	if score == nil {
		return true
	}
	return *score >= c.Threshold()
}

// Provider 风险配置来源。
type Provider interface {
	RiskConfig(ctx context.Context, tenantID, appID string) (Config, error)
}

// CacheConfig 缓存配置。
type CacheConfig struct {
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultCacheConfig 返回默认配置。
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: time.Minute}
}

// Cache 应用风险配置的 TTL 缓存。
// 配置源故障时回退为默认配置，保证检测不因配置抖动而失败。
type Cache struct {
	provider Provider
	ttl      time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	config    Config
	expiresAt time.Time
}

// NewCache 创建风险配置缓存。
func NewCache(provider Provider, cfg CacheConfig, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	return &Cache{
		provider: provider,
		ttl:      cfg.TTL,
		logger:   logger.With(zap.String("component", "riskconfig_cache")),
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Get 返回应用的风险配置。
func (c *Cache) Get(ctx context.Context, tenantID, appID string) Config {
	key := tenantID + "/" + appID

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.config
	}

	cfg, err := c.provider.RiskConfig(ctx, tenantID, appID)
	if err != nil {
		c.logger.Warn("risk config load failed, using defaults",
			zap.String("key", key), zap.Error(err))
		if ok {
			return entry.config
		}
		return DefaultConfig()
	}
	if cfg.Switches == nil {
		cfg.Switches = map[string]bool{}
	}
	if _, known := triggerThresholds[cfg.TriggerLevel]; !known {
		cfg.TriggerLevel = TriggerMedium
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{config: cfg, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg
}

// Invalidate 使指定应用的缓存失效。
func (c *Cache) Invalidate(tenantID, appID string) {
	c.mu.Lock()
	delete(c.entries, tenantID+"/"+appID)
	c.mu.Unlock()
}

// InvalidateAll 清空全部缓存。
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
