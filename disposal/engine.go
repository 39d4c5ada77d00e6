package disposal

import (
	"context"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// PolicyProvider 处置策略与私有模型配置来源。
type PolicyProvider interface {
	TenantPolicy(ctx context.Context, tenantID string) (TenantPolicy, error)
	ApplicationPolicy(ctx context.Context, appID string) (*ApplicationPolicy, error)
	PrivateModels(ctx context.Context, tenantID string) ([]PrivateModel, error)
}

// Engine 策略解析与处置决策的外层封装。
// 策略源故障时回退为默认策略，决策本身委托给纯函数 Decide。
type Engine struct {
	provider PolicyProvider
	general  GeneralPolicy
	logger   *zap.Logger
}

// NewEngine 创建处置引擎。
func NewEngine(provider PolicyProvider, general GeneralPolicy, logger *zap.Logger) *Engine {
	if general == (GeneralPolicy{}) {
		general = DefaultGeneralPolicy()
	}
	return &Engine{
		provider: provider,
		general:  general,
		logger:   logger.With(zap.String("component", "disposal_engine")),
	}
}

// ResolvePolicy 拉取并合成应用生效策略。任一来源失败均回退默认值。
func (e *Engine) ResolvePolicy(ctx context.Context, auth types.AuthContext) ResolvedPolicy {
	tenant, err := e.provider.TenantPolicy(ctx, auth.TenantID)
	if err != nil {
		e.logger.Warn("tenant policy load failed, using defaults",
			zap.String("tenant_id", auth.TenantID), zap.Error(err))
		tenant = DefaultTenantPolicy()
	}

	app, err := e.provider.ApplicationPolicy(ctx, auth.ApplicationID)
	if err != nil {
		e.logger.Warn("application policy load failed, using tenant defaults",
			zap.String("application_id", auth.ApplicationID), zap.Error(err))
		app = nil
	}

	return ResolvedPolicy{Tenant: tenant, App: app, General: e.general}
}

// Decide 解析策略并产出处置决策。
// 仅当数据风险动作解析为切换私有模型时才触发模型查询。
func (e *Engine) Decide(ctx context.Context, general GeneralRisk, data DataRisk, direction types.DetectionDirection, auth types.AuthContext) Decision {
	pol := e.ResolvePolicy(ctx, auth)

	var privateModel *PrivateModel
	if pol.DataActionFor(data.RiskLevel, direction) == types.ActionSwitchPrivateModel {
		privateModel = e.lookupPrivateModel(ctx, pol, auth)
	}

	return Decide(general, data, pol, direction, privateModel)
}

func (e *Engine) lookupPrivateModel(ctx context.Context, pol ResolvedPolicy, auth types.AuthContext) *PrivateModel {
	models, err := e.provider.PrivateModels(ctx, auth.TenantID)
	if err != nil {
		e.logger.Warn("private model lookup failed",
			zap.String("tenant_id", auth.TenantID), zap.Error(err))
		return nil
	}
	overrideID := ""
	if pol.App != nil {
		overrideID = pol.App.PrivateModelID
	}
	return SelectPrivateModel(models, overrideID)
}
