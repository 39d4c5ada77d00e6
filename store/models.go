package store

import (
	"time"
)

// 数据模型按租户/应用两级作用域组织。application_id 为空表示
// 租户级配置，查询时应用级配置与租户级配置合并返回。

// KeywordList 黑白名单表。
type KeywordList struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	TenantID      string `gorm:"size:36;index:idx_keyword_scope" json:"tenant_id"`
	ApplicationID string `gorm:"size:36;index:idx_keyword_scope" json:"application_id"`
	Name          string `gorm:"size:128;not null" json:"name"`
	Kind          string `gorm:"size:16;not null" json:"kind"` // blacklist / whitelist
	RiskLevel     string `gorm:"size:16;default:high_risk" json:"risk_level"`
	Keywords      string `gorm:"type:text" json:"keywords"` // JSON 数组
	Enabled       bool   `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (KeywordList) TableName() string { return "keyword_lists" }

// EntityType 敏感实体类型表。应用自定义类型按 Code 覆盖系统内置模板。
type EntityType struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	TenantID      string `gorm:"size:36;index:idx_entity_scope" json:"tenant_id"`
	ApplicationID string `gorm:"size:36;index:idx_entity_scope" json:"application_id"`
	Code          string `gorm:"size:64;not null" json:"entity_type"`
	DisplayName   string `gorm:"size:128" json:"display_name"`
	RiskLevel     string `gorm:"size:16;default:medium_risk" json:"risk_level"`
	Recognition   string `gorm:"size:16;default:regex" json:"recognition_method"`
	Pattern       string `gorm:"type:text" json:"pattern"`
	Definition    string `gorm:"type:text" json:"entity_definition"`
	Method        string `gorm:"size:32;default:replace" json:"anonymization_method"`
	MethodConfig  string `gorm:"type:text" json:"anonymization_config"` // JSON 对象
	Program       []byte `gorm:"type:blob" json:"anonymization_program"`
	ProgramHash   string `gorm:"size:64" json:"anonymization_program_hash"`
	CheckInput    bool   `gorm:"default:true" json:"check_input"`
	CheckOutput   bool   `gorm:"default:true" json:"check_output"`
	Enabled       bool   `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EntityType) TableName() string { return "entity_types" }

// Scanner 扫描器表。
type Scanner struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	TenantID      string `gorm:"size:36;index:idx_scanner_scope" json:"tenant_id"`
	ApplicationID string `gorm:"size:36;index:idx_scanner_scope" json:"application_id"`
	Tag           string `gorm:"size:32;not null" json:"tag"`
	Name          string `gorm:"size:128;not null" json:"name"`
	Type          string `gorm:"size:16;default:genai" json:"scanner_type"`
	Definition    string `gorm:"type:text" json:"definition"`
	RiskLevel     string `gorm:"size:16;default:low_risk" json:"risk_level"`
	PackageType   string `gorm:"size:16;default:basic" json:"package_type"`
	ScanPrompt    bool   `gorm:"default:true" json:"scan_prompt"`
	ScanResponse  bool   `gorm:"default:true" json:"scan_response"`
	Enabled       bool   `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Scanner) TableName() string { return "scanners" }

// RiskConfig 应用风险配置表，每个作用域至多一行。
type RiskConfig struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	TenantID      string `gorm:"size:36;index:idx_riskcfg_scope" json:"tenant_id"`
	ApplicationID string `gorm:"size:36;index:idx_riskcfg_scope" json:"application_id"`
	Switches      string `gorm:"type:text" json:"switches"` // JSON 对象 tag → bool
	TriggerLevel  string `gorm:"size:16;default:medium" json:"trigger_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RiskConfig) TableName() string { return "risk_configs" }

// TenantPolicy 租户处置策略表。
type TenantPolicy struct {
	TenantID string `gorm:"primaryKey;size:36" json:"tenant_id"`

	InputHighRiskAction   string `gorm:"size:32;default:block" json:"input_high_risk_action"`
	InputMediumRiskAction string `gorm:"size:32;default:switch_private_model" json:"input_medium_risk_action"`
	InputLowRiskAction    string `gorm:"size:32;default:anonymize" json:"input_low_risk_action"`

	OutputHighRiskAnonymize   bool `gorm:"default:true" json:"output_high_risk_anonymize"`
	OutputMediumRiskAnonymize bool `gorm:"default:true" json:"output_medium_risk_anonymize"`
	OutputLowRiskAnonymize    bool `gorm:"default:false" json:"output_low_risk_anonymize"`

	EnableFormatDetection   bool `gorm:"default:true" json:"enable_format_detection"`
	EnableSmartSegmentation bool `gorm:"default:true" json:"enable_smart_segmentation"`

	Language string `gorm:"size:8;default:en" json:"language"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TenantPolicy) TableName() string { return "tenant_policies" }

// ApplicationPolicy 应用级策略覆盖表。指针列为 NULL 时继承租户默认值。
type ApplicationPolicy struct {
	ApplicationID string `gorm:"primaryKey;size:36" json:"application_id"`
	TenantID      string `gorm:"size:36;index" json:"tenant_id"`

	InputHighRiskAction   *string `gorm:"size:32" json:"input_high_risk_action"`
	InputMediumRiskAction *string `gorm:"size:32" json:"input_medium_risk_action"`
	InputLowRiskAction    *string `gorm:"size:32" json:"input_low_risk_action"`

	OutputHighRiskAnonymize   *bool `json:"output_high_risk_anonymize"`
	OutputMediumRiskAnonymize *bool `json:"output_medium_risk_anonymize"`
	OutputLowRiskAnonymize    *bool `json:"output_low_risk_anonymize"`

	EnableFormatDetection   *bool `json:"enable_format_detection"`
	EnableSmartSegmentation *bool `json:"enable_smart_segmentation"`

	PrivateModelID string `gorm:"size:36" json:"private_model_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ApplicationPolicy) TableName() string { return "application_policies" }

// PrivateModel 租户私有模型表。
type PrivateModel struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string `gorm:"size:36;index" json:"tenant_id"`
	Name      string `gorm:"size:128" json:"config_name"`
	BaseURL   string `gorm:"size:512" json:"base_url"`
	APIKey    string `gorm:"size:512" json:"api_key"`
	Model     string `gorm:"size:128" json:"model"`
	IsDefault bool   `gorm:"default:false" json:"is_default"`
	Active    bool   `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PrivateModel) TableName() string { return "private_models" }

// AnswerTemplate 建议回答模板表。tenant_id 为空表示全局模板。
type AnswerTemplate struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string `gorm:"size:36;index" json:"tenant_id"`
	Category  string `gorm:"size:64;not null" json:"category"` // 标签或 "default"
	IsDefault bool   `gorm:"default:false" json:"is_default"`
	Content   string `gorm:"type:text" json:"content"` // JSON 对象 lang → 文案
	Enabled   bool   `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AnswerTemplate) TableName() string { return "answer_templates" }
