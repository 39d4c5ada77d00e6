package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/answer"
	"github.com/openguardrails/openguardrails-sub000/disposal"
	"github.com/openguardrails/openguardrails-sub000/entity"
	"github.com/openguardrails/openguardrails-sub000/internal/cache"
	"github.com/openguardrails/openguardrails-sub000/internal/metrics"
	"github.com/openguardrails/openguardrails-sub000/keyword"
	"github.com/openguardrails/openguardrails-sub000/riskconfig"
	"github.com/openguardrails/openguardrails-sub000/scanner"
)

// CachedStore 在 Store 之上叠加 Redis 配置缓存。
// 实现与 Store 相同的 Provider 接口集合；缓存读写失败时
// 直接回源数据库，缓存层故障不影响检测。
type CachedStore struct {
	store   *Store
	cache   *cache.Manager
	metrics *metrics.Collector
	ttl     time.Duration
	logger  *zap.Logger
	stop    func()
}

// NewCachedStore 创建带缓存的配置存储并订阅失效广播。
// collector 可为 nil。ttl 为 0 时使用缓存管理器的默认过期时间。
func NewCachedStore(store *Store, cacheManager *cache.Manager, collector *metrics.Collector, ttl time.Duration, logger *zap.Logger) (*CachedStore, error) {
	c := &CachedStore{
		store:   store,
		cache:   cacheManager,
		metrics: collector,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "cached_store")),
	}

	stop, err := cacheManager.SubscribeInvalidations(context.Background(), c.onInvalidation)
	if err != nil {
		return nil, err
	}
	c.stop = stop
	return c, nil
}

// Close 停止失效订阅。不关闭底层缓存管理器。
func (c *CachedStore) Close() {
	if c.stop != nil {
		c.stop()
	}
}

// Invalidate 广播一次配置变更。管理面写库后调用。
func (c *CachedStore) Invalidate(ctx context.Context, event cache.Event) error {
	return c.cache.PublishInvalidation(ctx, event)
}

func (c *CachedStore) onInvalidation(event cache.Event) {
	keys := event.Keys()
	if len(keys) == 0 {
		c.logger.Warn("invalidation with unknown scope ignored",
			zap.String("scope", string(event.Scope)))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cache.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation delete failed",
			zap.Strings("keys", keys), zap.Error(err))
	}
}

// lookup 尝试读缓存，未命中时调用 load 回源并回填。
// dest 先用于缓存反序列化，命中返回 true。
func (c *CachedStore) lookup(ctx context.Context, cacheType, key string, dest any) bool {
	err := c.cache.GetJSON(ctx, key, dest)
	if err == nil {
		c.recordHit(cacheType)
		return true
	}
	if !cache.IsCacheMiss(err) {
		c.logger.Warn("cache read failed, falling back to database",
			zap.String("key", key), zap.Error(err))
	}
	c.recordMiss(cacheType)
	return false
}

func (c *CachedStore) fill(ctx context.Context, key string, value any) {
	if err := c.cache.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedStore) recordHit(cacheType string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(cacheType)
	}
}

func (c *CachedStore) recordMiss(cacheType string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(cacheType)
	}
}

// KeywordLists 实现 keyword.Provider。
func (c *CachedStore) KeywordLists(ctx context.Context, tenantID, appID string) ([]keyword.List, error) {
	key := cache.KeywordListsKey(tenantID, appID)
	var lists []keyword.List
	if c.lookup(ctx, "keyword_lists", key, &lists) {
		return lists, nil
	}
	lists, err := c.store.KeywordLists(ctx, tenantID, appID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, lists)
	return lists, nil
}

// EntityTypes 实现 entity.Provider。
func (c *CachedStore) EntityTypes(ctx context.Context, tenantID, appID string) ([]entity.Type, error) {
	key := cache.EntityTypesKey(tenantID, appID)
	var entityTypes []entity.Type
	if c.lookup(ctx, "entity_types", key, &entityTypes) {
		return entityTypes, nil
	}
	entityTypes, err := c.store.EntityTypes(ctx, tenantID, appID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, entityTypes)
	return entityTypes, nil
}

// Scanners 实现 scanner.Provider。
func (c *CachedStore) Scanners(ctx context.Context, tenantID, appID string) ([]scanner.Definition, error) {
	key := cache.ScannersKey(tenantID, appID)
	var defs []scanner.Definition
	if c.lookup(ctx, "scanners", key, &defs) {
		return defs, nil
	}
	defs, err := c.store.Scanners(ctx, tenantID, appID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, defs)
	return defs, nil
}

// RiskConfig 实现 riskconfig.Provider。
func (c *CachedStore) RiskConfig(ctx context.Context, tenantID, appID string) (riskconfig.Config, error) {
	key := cache.RiskConfigKey(tenantID, appID)
	var cfg riskconfig.Config
	if c.lookup(ctx, "risk_config", key, &cfg) {
		return cfg, nil
	}
	cfg, err := c.store.RiskConfig(ctx, tenantID, appID)
	if err != nil {
		return riskconfig.Config{}, err
	}
	c.fill(ctx, key, cfg)
	return cfg, nil
}

// TenantPolicy 实现 disposal.PolicyProvider。
func (c *CachedStore) TenantPolicy(ctx context.Context, tenantID string) (disposal.TenantPolicy, error) {
	key := cache.TenantPolicyKey(tenantID)
	var pol disposal.TenantPolicy
	if c.lookup(ctx, "tenant_policy", key, &pol) {
		return pol, nil
	}
	pol, err := c.store.TenantPolicy(ctx, tenantID)
	if err != nil {
		return disposal.TenantPolicy{}, err
	}
	c.fill(ctx, key, pol)
	return pol, nil
}

// ApplicationPolicy 实现 disposal.PolicyProvider。
// 不存在的策略以 JSON null 缓存，避免反复回源。
func (c *CachedStore) ApplicationPolicy(ctx context.Context, appID string) (*disposal.ApplicationPolicy, error) {
	key := cache.ApplicationPolicyKey(appID)
	var pol *disposal.ApplicationPolicy
	if c.lookup(ctx, "application_policy", key, &pol) {
		return pol, nil
	}
	pol, err := c.store.ApplicationPolicy(ctx, appID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, pol)
	return pol, nil
}

// PrivateModels 实现 disposal.PolicyProvider。
func (c *CachedStore) PrivateModels(ctx context.Context, tenantID string) ([]disposal.PrivateModel, error) {
	key := cache.PrivateModelsKey(tenantID)
	var models []disposal.PrivateModel
	if c.lookup(ctx, "private_models", key, &models) {
		return models, nil
	}
	models, err := c.store.PrivateModels(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, models)
	return models, nil
}

// Templates 实现 answer.Provider。
func (c *CachedStore) Templates(ctx context.Context, tenantID string) ([]answer.Template, error) {
	key := cache.TemplatesKey(tenantID)
	var templates []answer.Template
	if c.lookup(ctx, "answer_templates", key, &templates) {
		return templates, nil
	}
	templates, err := c.store.Templates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, templates)
	return templates, nil
}
