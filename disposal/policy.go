// Package disposal 把扫描裁决与数据泄露检测结果合成最终处置动作。
// 处置决策本身是无 I/O 的纯函数，策略与私有模型的获取由 Engine
// 通过外部配置接口完成。
package disposal

import (
	"github.com/openguardrails/openguardrails-sub000/types"
)

// GeneralPolicy 通用风险（合规+安全）的处置策略，按风险等级取动作。
// 可用动作限于 reject/replace/pass。
type GeneralPolicy struct {
	HighRiskAction   types.SuggestAction `json:"high_risk_action" yaml:"high_risk_action"`
	MediumRiskAction types.SuggestAction `json:"medium_risk_action" yaml:"medium_risk_action"`
	LowRiskAction    types.SuggestAction `json:"low_risk_action" yaml:"low_risk_action"`
}

// DefaultGeneralPolicy 返回默认策略：高风险拒绝，中低风险代答。
func DefaultGeneralPolicy() GeneralPolicy {
	return GeneralPolicy{
		HighRiskAction:   types.ActionReject,
		MediumRiskAction: types.ActionReplace,
		LowRiskAction:    types.ActionReplace,
	}
}

// ActionFor 返回给定风险等级的通用处置动作。
func (p GeneralPolicy) ActionFor(level types.RiskLevel) types.SuggestAction {
	switch level {
	case types.RiskHigh:
		return p.HighRiskAction
	case types.RiskMedium:
		return p.MediumRiskAction
	case types.RiskLow:
		return p.LowRiskAction
	default:
		return types.ActionPass
	}
}

// TenantPolicy 租户级数据泄露处置默认策略。
type TenantPolicy struct {
	InputHighRiskAction   types.SuggestAction `json:"input_high_risk_action" yaml:"input_high_risk_action"`
	InputMediumRiskAction types.SuggestAction `json:"input_medium_risk_action" yaml:"input_medium_risk_action"`
	InputLowRiskAction    types.SuggestAction `json:"input_low_risk_action" yaml:"input_low_risk_action"`

	OutputHighRiskAnonymize   bool `json:"output_high_risk_anonymize" yaml:"output_high_risk_anonymize"`
	OutputMediumRiskAnonymize bool `json:"output_medium_risk_anonymize" yaml:"output_medium_risk_anonymize"`
	OutputLowRiskAnonymize    bool `json:"output_low_risk_anonymize" yaml:"output_low_risk_anonymize"`

	EnableFormatDetection   bool `json:"enable_format_detection" yaml:"enable_format_detection"`
	EnableSmartSegmentation bool `json:"enable_smart_segmentation" yaml:"enable_smart_segmentation"`
}

// DefaultTenantPolicy 返回租户默认策略：
// 输入高风险拦截、中风险切换私有模型、低风险脱敏；
// 输出高中风险脱敏、低风险放行。
func DefaultTenantPolicy() TenantPolicy {
	return TenantPolicy{
		InputHighRiskAction:       types.ActionBlock,
		InputMediumRiskAction:     types.ActionSwitchPrivateModel,
		InputLowRiskAction:        types.ActionAnonymize,
		OutputHighRiskAnonymize:   true,
		OutputMediumRiskAnonymize: true,
		OutputLowRiskAnonymize:    false,
		EnableFormatDetection:     true,
		EnableSmartSegmentation:   true,
	}
}

// ApplicationPolicy 应用级策略覆盖。nil 字段继承租户默认值。
type ApplicationPolicy struct {
	InputHighRiskAction   *types.SuggestAction `json:"input_high_risk_action" yaml:"input_high_risk_action"`
	InputMediumRiskAction *types.SuggestAction `json:"input_medium_risk_action" yaml:"input_medium_risk_action"`
	InputLowRiskAction    *types.SuggestAction `json:"input_low_risk_action" yaml:"input_low_risk_action"`

	OutputHighRiskAnonymize   *bool `json:"output_high_risk_anonymize" yaml:"output_high_risk_anonymize"`
	OutputMediumRiskAnonymize *bool `json:"output_medium_risk_anonymize" yaml:"output_medium_risk_anonymize"`
	OutputLowRiskAnonymize    *bool `json:"output_low_risk_anonymize" yaml:"output_low_risk_anonymize"`

	EnableFormatDetection   *bool `json:"enable_format_detection" yaml:"enable_format_detection"`
	EnableSmartSegmentation *bool `json:"enable_smart_segmentation" yaml:"enable_smart_segmentation"`

	// PrivateModelID 应用指定的私有模型，空则走租户默认
	PrivateModelID string `json:"private_model_id" yaml:"private_model_id"`
}

// ResolvedPolicy 应用覆盖叠加租户默认后的生效策略。
type ResolvedPolicy struct {
	Tenant  TenantPolicy
	App     *ApplicationPolicy
	General GeneralPolicy
}

// DataActionFor 返回数据泄露风险在给定方向与等级下的处置动作。
// 输入方向取动作枚举，输出方向由脱敏开关折算为 anonymize/pass。
func (p ResolvedPolicy) DataActionFor(level types.RiskLevel, direction types.DetectionDirection) types.SuggestAction {
	if level == types.RiskNone {
		return types.ActionPass
	}

	if direction == types.DirectionOutput {
		var anonymize bool
		switch level {
		case types.RiskHigh:
			anonymize = resolveBool(appBool(p.App, func(a *ApplicationPolicy) *bool { return a.OutputHighRiskAnonymize }), p.Tenant.OutputHighRiskAnonymize)
		case types.RiskMedium:
			anonymize = resolveBool(appBool(p.App, func(a *ApplicationPolicy) *bool { return a.OutputMediumRiskAnonymize }), p.Tenant.OutputMediumRiskAnonymize)
		case types.RiskLow:
			anonymize = resolveBool(appBool(p.App, func(a *ApplicationPolicy) *bool { return a.OutputLowRiskAnonymize }), p.Tenant.OutputLowRiskAnonymize)
		}
		if anonymize {
			return types.ActionAnonymize
		}
		return types.ActionPass
	}

	switch level {
	case types.RiskHigh:
		return resolveAction(appAction(p.App, func(a *ApplicationPolicy) *types.SuggestAction { return a.InputHighRiskAction }), p.Tenant.InputHighRiskAction)
	case types.RiskMedium:
		return resolveAction(appAction(p.App, func(a *ApplicationPolicy) *types.SuggestAction { return a.InputMediumRiskAction }), p.Tenant.InputMediumRiskAction)
	default:
		return resolveAction(appAction(p.App, func(a *ApplicationPolicy) *types.SuggestAction { return a.InputLowRiskAction }), p.Tenant.InputLowRiskAction)
	}
}

// FormatDetectionEnabled 返回生效的格式检测开关。
func (p ResolvedPolicy) FormatDetectionEnabled() bool {
	return resolveBool(appBool(p.App, func(a *ApplicationPolicy) *bool { return a.EnableFormatDetection }), p.Tenant.EnableFormatDetection)
}

// SmartSegmentationEnabled 返回生效的智能分段开关。
func (p ResolvedPolicy) SmartSegmentationEnabled() bool {
	return resolveBool(appBool(p.App, func(a *ApplicationPolicy) *bool { return a.EnableSmartSegmentation }), p.Tenant.EnableSmartSegmentation)
}

func appAction(app *ApplicationPolicy, get func(*ApplicationPolicy) *types.SuggestAction) *types.SuggestAction {
	if app == nil {
		return nil
	}
	return get(app)
}

func appBool(app *ApplicationPolicy, get func(*ApplicationPolicy) *bool) *bool {
	if app == nil {
		return nil
	}
	return get(app)
}

func resolveAction(override *types.SuggestAction, fallback types.SuggestAction) types.SuggestAction {
	if override != nil && *override != "" {
		return *override
	}
	return fallback
}

func resolveBool(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

// PrivateModel 可切换的数据私有模型配置。
type PrivateModel struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"config_name" yaml:"config_name"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Model     string `json:"model" yaml:"model"`
	IsDefault bool   `json:"is_default" yaml:"is_default"`
	Active    bool   `json:"active" yaml:"active"`
}

// SelectPrivateModel 按优先级选择私有模型：
// 应用指定覆盖 > 租户默认 > 首个可用，均不可用返回 nil。
func SelectPrivateModel(models []PrivateModel, overrideID string) *PrivateModel {
	if overrideID != "" {
		for i := range models {
			if models[i].ID == overrideID && models[i].Active {
				return &models[i]
			}
		}
	}
	for i := range models {
		if models[i].IsDefault && models[i].Active {
			return &models[i]
		}
	}
	for i := range models {
		if models[i].Active {
			return &models[i]
		}
	}
	return nil
}
