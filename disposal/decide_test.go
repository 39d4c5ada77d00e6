package disposal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/types"
)

func defaultPolicy() ResolvedPolicy {
	return ResolvedPolicy{
		Tenant:  DefaultTenantPolicy(),
		General: DefaultGeneralPolicy(),
	}
}

func generalRisk(level types.RiskLevel, security bool) GeneralRisk {
	g := GeneralRisk{
		Compliance: types.NewCategoryResult(),
		Security:   types.NewCategoryResult(),
	}
	if security {
		g.Security.RiskLevel = level
	} else {
		g.Compliance.RiskLevel = level
	}
	return g
}

func TestDecideNoRisk(t *testing.T) {
	d := Decide(generalRisk(types.RiskNone, false), DataRisk{RiskLevel: types.RiskNone},
		defaultPolicy(), types.DirectionInput, nil)
	assert.Equal(t, types.ActionPass, d.Action)
	assert.Equal(t, SourceNone, d.Source)
	assert.Equal(t, types.RiskNone, d.OverallRiskLevel)
}

func TestDecideGeneralRiskActions(t *testing.T) {
	t.Run("high risk rejects", func(t *testing.T) {
		d := Decide(generalRisk(types.RiskHigh, true), DataRisk{RiskLevel: types.RiskNone},
			defaultPolicy(), types.DirectionInput, nil)
		assert.Equal(t, types.ActionReject, d.Action)
		assert.Equal(t, SourceGeneral, d.Source)
		assert.Equal(t, types.RiskHigh, d.OverallRiskLevel)
	})

	t.Run("medium risk replaces", func(t *testing.T) {
		d := Decide(generalRisk(types.RiskMedium, false), DataRisk{RiskLevel: types.RiskNone},
			defaultPolicy(), types.DirectionInput, nil)
		assert.Equal(t, types.ActionReplace, d.Action)
	})
}

func TestDecideDataRiskInputActions(t *testing.T) {
	noGeneral := generalRisk(types.RiskNone, false)

	t.Run("high risk blocks", func(t *testing.T) {
		d := Decide(noGeneral, DataRisk{RiskLevel: types.RiskHigh}, defaultPolicy(), types.DirectionInput, nil)
		assert.Equal(t, types.ActionBlock, d.Action)
		assert.Equal(t, SourceData, d.Source)
	})

	t.Run("medium risk switches with private model", func(t *testing.T) {
		pm := &PrivateModel{ID: "m1", Active: true}
		d := Decide(noGeneral, DataRisk{RiskLevel: types.RiskMedium}, defaultPolicy(), types.DirectionInput, pm)
		assert.Equal(t, types.ActionSwitchPrivateModel, d.Action)
		require.NotNil(t, d.PrivateModel)
		assert.Equal(t, "m1", d.PrivateModel.ID)
	})

	t.Run("medium risk degrades to block without private model", func(t *testing.T) {
		d := Decide(noGeneral, DataRisk{RiskLevel: types.RiskMedium}, defaultPolicy(), types.DirectionInput, nil)
		assert.Equal(t, types.ActionBlock, d.Action)
		assert.Nil(t, d.PrivateModel)
	})

	t.Run("low risk anonymizes", func(t *testing.T) {
		d := Decide(noGeneral, DataRisk{RiskLevel: types.RiskLow}, defaultPolicy(), types.DirectionInput, nil)
		assert.Equal(t, types.ActionAnonymize, d.Action)
	})
}

func TestDecideDataRiskOutputActions(t *testing.T) {
	noGeneral := generalRisk(types.RiskNone, false)

	t.Run("high risk anonymizes", func(t *testing.T) {
		d := Decide(noGeneral, DataRisk{RiskLevel: types.RiskHigh}, defaultPolicy(), types.DirectionOutput, nil)
		assert.Equal(t, types.ActionAnonymize, d.Action)
	})

	t.Run("low risk passes", func(t *testing.T) {
		d := Decide(noGeneral, DataRisk{RiskLevel: types.RiskLow}, defaultPolicy(), types.DirectionOutput, nil)
		assert.Equal(t, types.ActionPass, d.Action)
	})
}

func TestDecideTieBreak(t *testing.T) {
	t.Run("higher general risk wins", func(t *testing.T) {
		d := Decide(generalRisk(types.RiskHigh, true), DataRisk{RiskLevel: types.RiskMedium},
			defaultPolicy(), types.DirectionInput, nil)
		// 中风险数据动作默认是切换模型而非拦截，通用风险直接胜出
		assert.Equal(t, types.ActionReject, d.Action)
		assert.Equal(t, SourceGeneral, d.Source)
	})

	t.Run("data wins on equal blocking level", func(t *testing.T) {
		d := Decide(generalRisk(types.RiskHigh, false), DataRisk{RiskLevel: types.RiskHigh},
			defaultPolicy(), types.DirectionInput, nil)
		assert.Equal(t, types.ActionBlock, d.Action)
		assert.Equal(t, SourceData, d.Source)
	})

	t.Run("higher data risk wins over lower general", func(t *testing.T) {
		pol := defaultPolicy()
		low := types.ActionBlock
		pol.App = &ApplicationPolicy{InputHighRiskAction: &low}
		d := Decide(generalRisk(types.RiskMedium, false), DataRisk{RiskLevel: types.RiskHigh},
			pol, types.DirectionInput, nil)
		assert.Equal(t, types.ActionBlock, d.Action)
		assert.Equal(t, SourceData, d.Source)
	})
}

func TestApplicationOverrides(t *testing.T) {
	pol := defaultPolicy()
	pass := types.ActionPass
	flag := false
	pol.App = &ApplicationPolicy{
		InputHighRiskAction:     &pass,
		OutputHighRiskAnonymize: &flag,
		EnableFormatDetection:   &flag,
	}

	assert.Equal(t, types.ActionPass, pol.DataActionFor(types.RiskHigh, types.DirectionInput))
	assert.Equal(t, types.ActionPass, pol.DataActionFor(types.RiskHigh, types.DirectionOutput))
	// 未覆盖的字段继承租户默认
	assert.Equal(t, types.ActionSwitchPrivateModel, pol.DataActionFor(types.RiskMedium, types.DirectionInput))
	assert.False(t, pol.FormatDetectionEnabled())
	assert.True(t, pol.SmartSegmentationEnabled())
}

func TestSelectPrivateModel(t *testing.T) {
	models := []PrivateModel{
		{ID: "a", Active: true},
		{ID: "b", Active: true, IsDefault: true},
		{ID: "c", Active: false},
	}

	t.Run("app override wins", func(t *testing.T) {
		assert.Equal(t, "a", SelectPrivateModel(models, "a").ID)
	})
	t.Run("inactive override falls back to default", func(t *testing.T) {
		assert.Equal(t, "b", SelectPrivateModel(models, "c").ID)
	})
	t.Run("default wins without override", func(t *testing.T) {
		assert.Equal(t, "b", SelectPrivateModel(models, "").ID)
	})
	t.Run("first active fallback", func(t *testing.T) {
		noDefault := []PrivateModel{{ID: "x", Active: false}, {ID: "y", Active: true}}
		assert.Equal(t, "y", SelectPrivateModel(noDefault, "").ID)
	})
	t.Run("none available", func(t *testing.T) {
		assert.Nil(t, SelectPrivateModel([]PrivateModel{{ID: "x"}}, ""))
	})
}

type stubPolicyProvider struct {
	tenant    TenantPolicy
	tenantErr error
	app       *ApplicationPolicy
	models    []PrivateModel
}

func (p *stubPolicyProvider) TenantPolicy(ctx context.Context, tenantID string) (TenantPolicy, error) {
	return p.tenant, p.tenantErr
}

func (p *stubPolicyProvider) ApplicationPolicy(ctx context.Context, appID string) (*ApplicationPolicy, error) {
	return p.app, nil
}

func (p *stubPolicyProvider) PrivateModels(ctx context.Context, tenantID string) ([]PrivateModel, error) {
	return p.models, nil
}

func TestEngineDecide(t *testing.T) {
	provider := &stubPolicyProvider{
		tenant: DefaultTenantPolicy(),
		models: []PrivateModel{{ID: "pm", Active: true}},
	}
	e := NewEngine(provider, DefaultGeneralPolicy(), zap.NewNop())

	d := e.Decide(context.Background(), generalRisk(types.RiskNone, false),
		DataRisk{RiskLevel: types.RiskMedium}, types.DirectionInput,
		types.AuthContext{TenantID: "t1", ApplicationID: "a1"})

	assert.Equal(t, types.ActionSwitchPrivateModel, d.Action)
	require.NotNil(t, d.PrivateModel)
	assert.Equal(t, "pm", d.PrivateModel.ID)
}

func TestEngineFallsBackToDefaultsOnProviderError(t *testing.T) {
	provider := &stubPolicyProvider{tenantErr: errors.New("db down")}
	e := NewEngine(provider, GeneralPolicy{}, zap.NewNop())

	d := e.Decide(context.Background(), generalRisk(types.RiskHigh, true),
		DataRisk{RiskLevel: types.RiskNone}, types.DirectionInput,
		types.AuthContext{TenantID: "t1", ApplicationID: "a1"})
	assert.Equal(t, types.ActionReject, d.Action)
}
