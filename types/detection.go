package types

// CategoryResult 单个检测维度的结果（合规、安全或数据防泄漏）。
type CategoryResult struct {
	RiskLevel  RiskLevel `json:"risk_level"`
	Categories []string  `json:"categories"`
}

// NewCategoryResult 创建无风险的维度结果。
func NewCategoryResult() CategoryResult {
	return CategoryResult{RiskLevel: RiskNone, Categories: []string{}}
}

// Merge 合并另一维度结果：风险取较高者，类别去重追加。
func (c *CategoryResult) Merge(other CategoryResult) {
	c.RiskLevel = MaxRiskLevel(c.RiskLevel, other.RiskLevel)
	seen := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		seen[cat] = struct{}{}
	}
	for _, cat := range other.Categories {
		if _, ok := seen[cat]; !ok {
			c.Categories = append(c.Categories, cat)
			seen[cat] = struct{}{}
		}
	}
}

// SensitiveEntity 数据防泄漏检测到的敏感实体。
// Start/End 为原文中的字节偏移，区间左闭右开。
type SensitiveEntity struct {
	EntityType      string    `json:"entity_type"`
	Text            string    `json:"text"`
	Start           int       `json:"start"`
	End             int       `json:"end"`
	RiskLevel       RiskLevel `json:"risk_level"`
	AnonymizedValue string    `json:"anonymized_value,omitempty"`
	// FromMask 标记该实体的脱敏方法为 mask，去重时优先于 replace。
	FromMask bool `json:"-"`
}

// Len 返回实体跨度长度。
func (e SensitiveEntity) Len() int {
	return e.End - e.Start
}

// DetectionResult 一次护栏检测的完整结果。
type DetectionResult struct {
	RequestID        string         `json:"id"`
	OverallRiskLevel RiskLevel      `json:"overall_risk_level"`
	SuggestAction    SuggestAction  `json:"suggest_action"`
	SuggestAnswer    string         `json:"suggest_answer,omitempty"`
	Score            float64        `json:"score,omitempty"`
	Compliance       CategoryResult `json:"compliance"`
	Security         CategoryResult `json:"security"`
	Data             CategoryResult `json:"data"`

	// Entities 数据防泄漏命中的实体明细（按原文出现顺序）。
	Entities []SensitiveEntity `json:"entities,omitempty"`
	// AnonymizedContent 脱敏后的内容，仅在处置动作为脱敏类时填充。
	AnonymizedContent string `json:"anonymized_content,omitempty"`
	// RestoreMapping 占位符到原文的映射，仅 anonymize_restore 模式填充。
	RestoreMapping map[string]string `json:"restore_mapping,omitempty"`
	// SwitchModel 处置动作为切换私有模型时的目标模型名。
	SwitchModel string `json:"switch_model,omitempty"`
}

// NewSafeResult 创建全部维度无风险、动作为放行的结果。
func NewSafeResult(requestID string) *DetectionResult {
	return &DetectionResult{
		RequestID:        requestID,
		OverallRiskLevel: RiskNone,
		SuggestAction:    ActionPass,
		Compliance:       NewCategoryResult(),
		Security:         NewCategoryResult(),
		Data:             NewCategoryResult(),
	}
}

// RecomputeOverall 依据三个维度重算总体风险等级。
func (r *DetectionResult) RecomputeOverall() {
	r.OverallRiskLevel = MaxRiskLevel(
		r.Compliance.RiskLevel, r.Security.RiskLevel, r.Data.RiskLevel)
}

// IsSafe 报告结果是否全维度无风险。
func (r *DetectionResult) IsSafe() bool {
	return r.OverallRiskLevel == RiskNone
}

// AuthContext 一次检测请求的租户与应用上下文。
type AuthContext struct {
	TenantID      string `json:"tenant_id"`
	ApplicationID string `json:"application_id"`
	UserID        string `json:"user_id,omitempty"`
	Language      string `json:"language,omitempty"` // "en" / "zh"
}

// Lang 返回归一化语言代码，未设置时为 "en"。
func (a AuthContext) Lang() string {
	if a.Language == "zh" {
		return "zh"
	}
	return "en"
}
