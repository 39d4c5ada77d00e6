// Package keyword 提供黑白名单关键词索引。
// 检测入口在调用模型前先经过本索引：黑名单命中立即按名单配置的
// 风险等级拦截，白名单命中立即放行。
package keyword

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// ListKind 名单类型。
type ListKind string

const (
	KindBlacklist ListKind = "blacklist"
	KindWhitelist ListKind = "whitelist"
)

// List 一条关键词名单配置。
type List struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Kind      ListKind        `json:"kind" yaml:"kind"`
	RiskLevel types.RiskLevel `json:"risk_level" yaml:"risk_level"` // 仅黑名单生效
	Keywords  []string        `json:"keywords" yaml:"keywords"`
	Enabled   bool            `json:"enabled" yaml:"enabled"`
}

// Provider 名单配置来源。
type Provider interface {
	// KeywordLists 返回应用启用的全部名单。
	KeywordLists(ctx context.Context, tenantID, appID string) ([]List, error)
}

// Hit 命中结果。
type Hit struct {
	List    List
	Keyword string
}

// IndexConfig 索引配置。
type IndexConfig struct {
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultIndexConfig 返回默认配置。
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{TTL: 5 * time.Minute}
}

// Index 带 TTL 快照缓存的关键词索引。
// 读路径只取不可变快照指针，刷新时先构建新快照再短暂加写锁替换。
type Index struct {
	provider Provider
	ttl      time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]*snapshot

	now func() time.Time
}

type snapshot struct {
	blacklists []compiledList
	whitelists []compiledList
	expiresAt  time.Time
}

type compiledList struct {
	list    List
	lowered []string
}

// NewIndex 创建关键词索引。
func NewIndex(provider Provider, cfg IndexConfig, logger *zap.Logger) *Index {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultIndexConfig().TTL
	}
	return &Index{
		provider:  provider,
		ttl:       cfg.TTL,
		logger:    logger.With(zap.String("component", "keyword_index")),
		snapshots: make(map[string]*snapshot),
		now:       time.Now,
	}
}

// Match 对内容执行黑白名单匹配。黑名单优先于白名单。
// 匹配为大小写不敏感的包含判断。未命中返回 (nil, nil)。
func (x *Index) Match(ctx context.Context, auth types.AuthContext, content string) (*Hit, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	snap, err := x.current(ctx, auth)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(content)
	if hit := matchLists(snap.blacklists, lowered); hit != nil {
		return hit, nil
	}
	return matchLists(snap.whitelists, lowered), nil
}

func matchLists(lists []compiledList, lowered string) *Hit {
	for _, cl := range lists {
		for i, kw := range cl.lowered {
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, kw) {
				return &Hit{List: cl.list, Keyword: cl.list.Keywords[i]}
			}
		}
	}
	return nil
}

func (x *Index) current(ctx context.Context, auth types.AuthContext) (*snapshot, error) {
	key := auth.TenantID + "/" + auth.ApplicationID

	x.mu.RLock()
	snap, ok := x.snapshots[key]
	x.mu.RUnlock()
	if ok && x.now().Before(snap.expiresAt) {
		return snap, nil
	}

	lists, err := x.provider.KeywordLists(ctx, auth.TenantID, auth.ApplicationID)
	if err != nil {
		// 加载失败时继续使用过期快照，避免配置源抖动放大为检测失败
		if ok {
			x.logger.Warn("keyword list refresh failed, serving stale snapshot",
				zap.String("key", key), zap.Error(err))
			return snap, nil
		}
		return nil, err
	}

	fresh := buildSnapshot(lists, x.now().Add(x.ttl))
	x.mu.Lock()
	x.snapshots[key] = fresh
	x.mu.Unlock()

	x.logger.Debug("keyword snapshot refreshed",
		zap.String("key", key),
		zap.Int("blacklists", len(fresh.blacklists)),
		zap.Int("whitelists", len(fresh.whitelists)))
	return fresh, nil
}

func buildSnapshot(lists []List, expiresAt time.Time) *snapshot {
	snap := &snapshot{expiresAt: expiresAt}
	for _, l := range lists {
		if !l.Enabled || len(l.Keywords) == 0 {
			continue
		}
		cl := compiledList{list: l, lowered: make([]string, len(l.Keywords))}
		for i, kw := range l.Keywords {
			cl.lowered[i] = strings.ToLower(strings.TrimSpace(kw))
		}
		switch l.Kind {
		case KindBlacklist:
			snap.blacklists = append(snap.blacklists, cl)
		case KindWhitelist:
			snap.whitelists = append(snap.whitelists, cl)
		}
	}
	return snap
}

// Invalidate 使指定应用的快照失效，下次匹配时重新加载。
func (x *Index) Invalidate(tenantID, appID string) {
	key := tenantID + "/" + appID
	x.mu.Lock()
	delete(x.snapshots, key)
	x.mu.Unlock()
}

// InvalidateAll 清空全部快照。
func (x *Index) InvalidateAll() {
	x.mu.Lock()
	x.snapshots = make(map[string]*snapshot)
	x.mu.Unlock()
}
