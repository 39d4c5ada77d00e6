package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// 📣 配置失效广播
// =============================================================================

// invalidationChannel 配置变更广播频道
const invalidationChannel = "og:config:invalidate"

// Scope 配置失效作用域
type Scope string

const (
	ScopeKeywords          Scope = "keywords"
	ScopeEntities          Scope = "entities"
	ScopeScanners          Scope = "scanners"
	ScopeRiskConfig        Scope = "risk_config"
	ScopeTenantPolicy      Scope = "tenant_policy"
	ScopeApplicationPolicy Scope = "application_policy"
	ScopePrivateModels     Scope = "private_models"
	ScopeTemplates         Scope = "templates"
)

// Event 一次配置变更事件。管理面写库后广播，
// 各检测实例收到后删除对应缓存键。
type Event struct {
	Scope         Scope  `json:"scope"`
	TenantID      string `json:"tenant_id"`
	ApplicationID string `json:"application_id,omitempty"`
}

// Keys 返回事件对应的缓存键。
func (e Event) Keys() []string {
	switch e.Scope {
	case ScopeKeywords:
		return []string{KeywordListsKey(e.TenantID, e.ApplicationID)}
	case ScopeEntities:
		return []string{EntityTypesKey(e.TenantID, e.ApplicationID)}
	case ScopeScanners:
		return []string{ScannersKey(e.TenantID, e.ApplicationID)}
	case ScopeRiskConfig:
		return []string{RiskConfigKey(e.TenantID, e.ApplicationID)}
	case ScopeTenantPolicy:
		return []string{TenantPolicyKey(e.TenantID)}
	case ScopeApplicationPolicy:
		return []string{ApplicationPolicyKey(e.ApplicationID)}
	case ScopePrivateModels:
		return []string{PrivateModelsKey(e.TenantID)}
	case ScopeTemplates:
		return []string{TemplatesKey(e.TenantID)}
	}
	return nil
}

// PublishInvalidation 广播配置变更事件。
func (m *Manager) PublishInvalidation(ctx context.Context, event Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("config cache is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation event: %w", err)
	}

	if err := m.redis.Publish(ctx, invalidationChannel, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	m.logger.Debug("invalidation published",
		zap.String("scope", string(event.Scope)),
		zap.String("tenant_id", event.TenantID),
	)
	return nil
}

// SubscribeInvalidations 订阅配置变更广播并逐条回调 handler。
// 订阅协程在 ctx 取消或返回的 stop 函数被调用后退出。
func (m *Manager) SubscribeInvalidations(ctx context.Context, handler func(Event)) (stop func(), err error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("config cache is closed")
	}
	pubsub := m.redis.Subscribe(ctx, invalidationChannel)
	m.mu.RUnlock()

	// 确认订阅建立，避免丢失早期事件
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe invalidations: %w", err)
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					m.logger.Warn("invalid invalidation payload",
						zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				handler(event)
			}
		}
	}()

	return func() { pubsub.Close() }, nil
}
