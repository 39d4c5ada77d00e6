package types

import (
	"sort"
	"strconv"
	"strings"
)

// 内置风险标签体系 S1-S21。S9（提示词攻击）归入安全检测维度，
// 其余标签归入合规检测维度。

// SecurityTag 安全维度标签（提示词攻击）。
const SecurityTag = "S9"

// BuiltinRiskLevels 内置标签的默认风险等级。
var BuiltinRiskLevels = map[string]RiskLevel{
	"S1":  RiskLow,
	"S2":  RiskHigh,
	"S3":  RiskHigh,
	"S4":  RiskMedium,
	"S5":  RiskHigh,
	"S6":  RiskMedium,
	"S7":  RiskMedium,
	"S8":  RiskLow,
	"S9":  RiskHigh,
	"S10": RiskLow,
	"S11": RiskLow,
	"S12": RiskLow,
	"S13": RiskLow,
	"S14": RiskLow,
	"S15": RiskHigh,
	"S16": RiskMedium,
	"S17": RiskHigh,
	"S18": RiskLow,
	"S19": RiskLow,
	"S20": RiskLow,
	"S21": RiskLow,
}

// BuiltinCategoryNames 内置标签的类别名称。
var BuiltinCategoryNames = map[string]string{
	"S1":  "General Political Topics",
	"S2":  "Sensitive Political Topics",
	"S3":  "Damage to National Image",
	"S4":  "Harm to Minors",
	"S5":  "Violent Crime",
	"S6":  "Illegal Activities",
	"S7":  "Pornography",
	"S8":  "Discriminatory Content",
	"S9":  "Prompt Attacks",
	"S10": "Insults",
	"S11": "Privacy Violation",
	"S12": "Business Violations",
	"S13": "Physical Harm",
	"S14": "Mental Health",
	"S15": "Violent Extremism",
	"S16": "Self-Harm and Suicide",
	"S17": "Terrorism",
	"S18": "Rumors and Misinformation",
	"S19": "Gambling",
	"S20": "Drugs and Weapons",
	"S21": "Ethics and Morality",
}

// IsSecurityTag 报告标签是否属于安全检测维度。
func IsSecurityTag(tag string) bool {
	return tag == SecurityTag
}

// TagNumber 解析 "S12" 形式标签的序号，非法标签返回 0。
func TagNumber(tag string) int {
	if !strings.HasPrefix(tag, "S") {
		return 0
	}
	n, err := strconv.Atoi(tag[1:])
	if err != nil {
		return 0
	}
	return n
}

// SortTags 按标签序号升序排序（原地）。
func SortTags(tags []string) {
	sort.Slice(tags, func(i, j int) bool {
		return TagNumber(tags[i]) < TagNumber(tags[j])
	})
}
