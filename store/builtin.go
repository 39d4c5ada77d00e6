package store

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openguardrails/openguardrails-sub000/scanner"
	"github.com/openguardrails/openguardrails-sub000/types"
)

// BuiltinScannerDefinitions 返回 S1-S21 内置扫描器定义，
// 按标签序号升序排列。全部为 basic 包的 GenAI 扫描器，
// 默认同时作用于输入与输出方向。
func BuiltinScannerDefinitions() []scanner.Definition {
	tags := make([]string, 0, len(types.BuiltinRiskLevels))
	for tag := range types.BuiltinRiskLevels {
		tags = append(tags, tag)
	}
	types.SortTags(tags)

	defs := make([]scanner.Definition, 0, len(tags))
	for _, tag := range tags {
		defs = append(defs, scanner.Definition{
			Tag:          tag,
			Name:         types.BuiltinCategoryNames[tag],
			Type:         scanner.TypeGenAI,
			RiskLevel:    types.BuiltinRiskLevels[tag],
			PackageType:  scanner.PackageBasic,
			ScanPrompt:   true,
			ScanResponse: true,
		})
	}
	return defs
}

// SeedBuiltinScanners 为指定作用域写入内置扫描器。
// 作用域内已有扫描器时跳过，保证可重复调用。
func SeedBuiltinScanners(db *gorm.DB, tenantID, appID string) error {
	var count int64
	err := db.Model(&Scanner{}).
		Where("tenant_id = ? AND application_id = ?", tenantID, appID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("count scanners: %w", err)
	}
	if count > 0 {
		return nil
	}

	rows := make([]Scanner, 0, len(types.BuiltinRiskLevels))
	for _, def := range BuiltinScannerDefinitions() {
		rows = append(rows, Scanner{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			ApplicationID: appID,
			Tag:           def.Tag,
			Name:          def.Name,
			Type:          string(def.Type),
			RiskLevel:     string(def.RiskLevel),
			PackageType:   string(def.PackageType),
			ScanPrompt:    def.ScanPrompt,
			ScanResponse:  def.ScanResponse,
			Enabled:       true,
		})
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("seed builtin scanners: %w", err)
	}
	return nil
}
