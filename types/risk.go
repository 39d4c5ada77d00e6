package types

// RiskLevel 风险等级，四级有序枚举。
// 合并多个检测来源时取较高者。
type RiskLevel string

const (
	RiskNone   RiskLevel = "no_risk"
	RiskLow    RiskLevel = "low_risk"
	RiskMedium RiskLevel = "medium_risk"
	RiskHigh   RiskLevel = "high_risk"
)

// riskOrder 风险等级全序。未知值按 no_risk 处理。
var riskOrder = map[RiskLevel]int{
	RiskNone:   0,
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// Rank 返回风险等级序号（no_risk=0 ... high_risk=3）。
func (r RiskLevel) Rank() int {
	return riskOrder[r]
}

// AtLeast 报告 r 是否不低于 other。
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// Valid 报告 r 是否为四个已知等级之一。
func (r RiskLevel) Valid() bool {
	_, ok := riskOrder[r]
	return ok && r != ""
}

// MaxRiskLevel 返回多个风险等级中的最高者。
func MaxRiskLevel(levels ...RiskLevel) RiskLevel {
	max := RiskNone
	for _, l := range levels {
		if l.Rank() > max.Rank() {
			max = l
		}
	}
	return max
}

// SuggestAction 处置建议动作。
type SuggestAction string

const (
	ActionPass               SuggestAction = "pass"
	ActionReject             SuggestAction = "reject"
	ActionReplace            SuggestAction = "replace"
	ActionAnonymize          SuggestAction = "anonymize"
	ActionAnonymizeRestore   SuggestAction = "anonymize_restore"
	ActionSwitchPrivateModel SuggestAction = "switch_private_model"
	ActionBlock              SuggestAction = "block"
)

// DetectionDirection 检测方向。实体类型可分别对输入、输出生效。
type DetectionDirection string

const (
	DirectionInput  DetectionDirection = "input"
	DirectionOutput DetectionDirection = "output"
)
