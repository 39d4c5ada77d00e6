// Package logsink 异步落盘检测结果。
// 记录写入绝不阻塞检测响应路径：Logger 把记录排入有界队列，
// 由后台工作协程交给具体 Sink，队列满时丢弃并计数。
package logsink

import (
	"strings"
	"time"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// DetectionRecord 一次检测的完整记录。
type DetectionRecord struct {
	RequestID     string                   `json:"request_id" bson:"request_id"`
	TenantID      string                   `json:"tenant_id" bson:"tenant_id"`
	ApplicationID string                   `json:"application_id" bson:"application_id"`
	UserID        string                   `json:"user_id,omitempty" bson:"user_id,omitempty"`
	Direction     types.DetectionDirection `json:"direction" bson:"direction"`

	Content  string `json:"content" bson:"content"`
	HasImage bool   `json:"has_image" bson:"has_image"`

	OverallRiskLevel     types.RiskLevel     `json:"overall_risk_level" bson:"overall_risk_level"`
	SuggestAction        types.SuggestAction `json:"suggest_action" bson:"suggest_action"`
	SuggestAnswer        string              `json:"suggest_answer,omitempty" bson:"suggest_answer,omitempty"`
	ComplianceRiskLevel  types.RiskLevel     `json:"compliance_risk_level" bson:"compliance_risk_level"`
	ComplianceCategories []string            `json:"compliance_categories" bson:"compliance_categories"`
	SecurityRiskLevel    types.RiskLevel     `json:"security_risk_level" bson:"security_risk_level"`
	SecurityCategories   []string            `json:"security_categories" bson:"security_categories"`
	DataRiskLevel        types.RiskLevel     `json:"data_risk_level" bson:"data_risk_level"`
	DataCategories       []string            `json:"data_categories" bson:"data_categories"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Sanitize 清洗记录中数据库无法接受的内容。
// NUL 字符会破坏部分存储后端的字符串编码，入库前剔除。
func (r *DetectionRecord) Sanitize() {
	r.Content = stripNUL(r.Content)
	r.SuggestAnswer = stripNUL(r.SuggestAnswer)
}

func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
