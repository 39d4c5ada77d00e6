package disposal

import (
	"github.com/openguardrails/openguardrails-sub000/types"
)

// RiskSource 处置动作的来源维度。
type RiskSource string

const (
	SourceNone    RiskSource = "none"
	SourceGeneral RiskSource = "general"
	SourceData    RiskSource = "data"
)

// GeneralRisk 扫描引擎产出的通用风险输入。
type GeneralRisk struct {
	Compliance types.CategoryResult
	Security   types.CategoryResult
}

// Level 返回通用风险的合成等级。
func (g GeneralRisk) Level() types.RiskLevel {
	return types.MaxRiskLevel(g.Compliance.RiskLevel, g.Security.RiskLevel)
}

// DataRisk 实体检测产出的数据泄露风险输入。
type DataRisk struct {
	RiskLevel  types.RiskLevel
	Categories []string
}

// Decision 处置决策结果。SuggestAnswer 的解析由调用方完成，
// 这里只决定动作与风险归属。
type Decision struct {
	Action           types.SuggestAction
	Source           RiskSource
	OverallRiskLevel types.RiskLevel
	GeneralRiskLevel types.RiskLevel
	DataRiskLevel    types.RiskLevel
	// PrivateModel 仅在 Action 为 switch_private_model 时非 nil
	PrivateModel *PrivateModel
}

// Decide 纯函数处置决策。
// 通用风险先于数据风险解析；二者同时要求拦截时风险等级高者胜出，
// 等级相同时数据风险优先（数据泄露代价高于一般违规）。
// switch_private_model 在没有可用私有模型时降级为 block。
func Decide(general GeneralRisk, data DataRisk, pol ResolvedPolicy, direction types.DetectionDirection, privateModel *PrivateModel) Decision {
	generalLevel := general.Level()
	overall := types.MaxRiskLevel(generalLevel, data.RiskLevel)

	d := Decision{
		Action:           types.ActionPass,
		Source:           SourceNone,
		OverallRiskLevel: overall,
		GeneralRiskLevel: generalLevel,
		DataRiskLevel:    data.RiskLevel,
	}
	if overall == types.RiskNone {
		return d
	}

	generalAction := types.ActionPass
	if generalLevel != types.RiskNone {
		generalAction = pol.General.ActionFor(generalLevel)
	}
	dataAction := pol.DataActionFor(data.RiskLevel, direction)

	generalBlocking := isBlocking(generalAction)
	dataBlocking := dataAction == types.ActionBlock

	switch {
	case generalBlocking && dataBlocking:
		// 冲突仲裁：高风险等级胜出，平级时数据风险优先
		if generalLevel.Rank() > data.RiskLevel.Rank() {
			d.Action = generalAction
			d.Source = SourceGeneral
		} else {
			d.Action = types.ActionBlock
			d.Source = SourceData
		}
	case generalBlocking:
		d.Action = generalAction
		d.Source = SourceGeneral
	case dataAction != types.ActionPass:
		d.Source = SourceData
		switch dataAction {
		case types.ActionSwitchPrivateModel:
			if privateModel != nil {
				d.Action = types.ActionSwitchPrivateModel
				d.PrivateModel = privateModel
			} else {
				// 无可用私有模型，降级拦截
				d.Action = types.ActionBlock
			}
		default:
			d.Action = dataAction
		}
	}
	return d
}

func isBlocking(a types.SuggestAction) bool {
	switch a {
	case types.ActionReject, types.ActionReplace, types.ActionBlock:
		return true
	}
	return false
}
