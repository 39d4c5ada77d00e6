// Package store 提供各配置 Provider 接口的 GORM 参考实现，
// 用于测试与演示装配。检测流水线自身只依赖接口，不依赖本包。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openguardrails/openguardrails-sub000/answer"
	"github.com/openguardrails/openguardrails-sub000/disposal"
	"github.com/openguardrails/openguardrails-sub000/entity"
	"github.com/openguardrails/openguardrails-sub000/keyword"
	"github.com/openguardrails/openguardrails-sub000/riskconfig"
	"github.com/openguardrails/openguardrails-sub000/scanner"
	"github.com/openguardrails/openguardrails-sub000/types"
)

// Store 基于 GORM 的配置存储。
// 同时实现 keyword.Provider、entity.Provider、scanner.Provider、
// riskconfig.Provider、disposal.PolicyProvider 与 answer.Provider。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore 创建配置存储。
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "config_store")),
	}
}

// AutoMigrate 迁移全部配置表。
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&KeywordList{},
		&EntityType{},
		&Scanner{},
		&RiskConfig{},
		&TenantPolicy{},
		&ApplicationPolicy{},
		&PrivateModel{},
		&AnswerTemplate{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate config tables: %w", err)
	}
	return nil
}

// scoped 返回租户下应用级与租户级配置的合并查询。
func (s *Store) scoped(ctx context.Context, tenantID, appID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND application_id IN ?", tenantID, []string{appID, ""})
}

// KeywordLists 实现 keyword.Provider。
func (s *Store) KeywordLists(ctx context.Context, tenantID, appID string) ([]keyword.List, error) {
	var rows []KeywordList
	if err := s.scoped(ctx, tenantID, appID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load keyword lists: %w", err)
	}

	lists := make([]keyword.List, 0, len(rows))
	for _, row := range rows {
		var keywords []string
		if row.Keywords != "" {
			if err := json.Unmarshal([]byte(row.Keywords), &keywords); err != nil {
				s.logger.Warn("invalid keyword list payload, list skipped",
					zap.String("list_id", row.ID), zap.Error(err))
				continue
			}
		}
		lists = append(lists, keyword.List{
			ID:        row.ID,
			Name:      row.Name,
			Kind:      keyword.ListKind(row.Kind),
			RiskLevel: types.RiskLevel(row.RiskLevel),
			Keywords:  keywords,
			Enabled:   row.Enabled,
		})
	}
	return lists, nil
}

// EntityTypes 实现 entity.Provider。系统内置模板与库内自定义类型
// 按 Code 合并，自定义配置覆盖内置副本，禁用项剔除。
func (s *Store) EntityTypes(ctx context.Context, tenantID, appID string) ([]entity.Type, error) {
	var rows []EntityType
	if err := s.scoped(ctx, tenantID, appID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load entity types: %w", err)
	}

	merged := make(map[string]entity.Type)
	var order []string
	for _, t := range entity.BuiltinTypes() {
		merged[t.Code] = t
		order = append(order, t.Code)
	}
	for _, row := range rows {
		var cfg entity.MethodConfig
		if row.MethodConfig != "" {
			if err := json.Unmarshal([]byte(row.MethodConfig), &cfg); err != nil {
				s.logger.Warn("invalid entity method config, type skipped",
					zap.String("entity_type", row.Code), zap.Error(err))
				continue
			}
		}
		if _, ok := merged[row.Code]; !ok {
			order = append(order, row.Code)
		}
		merged[row.Code] = entity.Type{
			Code:        row.Code,
			DisplayName: row.DisplayName,
			RiskLevel:   types.RiskLevel(row.RiskLevel),
			Recognition: entity.Recognition(row.Recognition),
			Pattern:     row.Pattern,
			Definition:  row.Definition,
			Method:      entity.Method(row.Method),
			Config:      cfg,
			Program:     row.Program,
			ProgramHash: row.ProgramHash,
			CheckInput:  row.CheckInput,
			CheckOutput: row.CheckOutput,
			Enabled:     row.Enabled,
		}
	}

	out := make([]entity.Type, 0, len(order))
	for _, code := range order {
		if t := merged[code]; t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

// Scanners 实现 scanner.Provider。仅返回启用的扫描器。
func (s *Store) Scanners(ctx context.Context, tenantID, appID string) ([]scanner.Definition, error) {
	var rows []Scanner
	if err := s.scoped(ctx, tenantID, appID).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load scanners: %w", err)
	}

	defs := make([]scanner.Definition, 0, len(rows))
	for _, row := range rows {
		defs = append(defs, scanner.Definition{
			Tag:          row.Tag,
			Name:         row.Name,
			Type:         scanner.Type(row.Type),
			Definition:   row.Definition,
			RiskLevel:    types.RiskLevel(row.RiskLevel),
			PackageType:  scanner.PackageType(row.PackageType),
			ScanPrompt:   row.ScanPrompt,
			ScanResponse: row.ScanResponse,
		})
	}
	return defs, nil
}

// RiskConfig 实现 riskconfig.Provider。无记录时返回默认配置。
func (s *Store) RiskConfig(ctx context.Context, tenantID, appID string) (riskconfig.Config, error) {
	var row RiskConfig
	err := s.scoped(ctx, tenantID, appID).
		Order("application_id DESC"). // 应用级优先于租户级
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return riskconfig.DefaultConfig(), nil
	}
	if err != nil {
		return riskconfig.Config{}, fmt.Errorf("load risk config: %w", err)
	}

	cfg := riskconfig.Config{
		Switches:     map[string]bool{},
		TriggerLevel: riskconfig.TriggerLevel(row.TriggerLevel),
	}
	if row.Switches != "" {
		if err := json.Unmarshal([]byte(row.Switches), &cfg.Switches); err != nil {
			return riskconfig.Config{}, fmt.Errorf("parse risk switches: %w", err)
		}
	}
	return cfg, nil
}

// TenantPolicy 实现 disposal.PolicyProvider。无记录时返回默认策略。
func (s *Store) TenantPolicy(ctx context.Context, tenantID string) (disposal.TenantPolicy, error) {
	var row TenantPolicy
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return disposal.DefaultTenantPolicy(), nil
	}
	if err != nil {
		return disposal.TenantPolicy{}, fmt.Errorf("load tenant policy: %w", err)
	}

	return disposal.TenantPolicy{
		InputHighRiskAction:       types.SuggestAction(row.InputHighRiskAction),
		InputMediumRiskAction:     types.SuggestAction(row.InputMediumRiskAction),
		InputLowRiskAction:        types.SuggestAction(row.InputLowRiskAction),
		OutputHighRiskAnonymize:   row.OutputHighRiskAnonymize,
		OutputMediumRiskAnonymize: row.OutputMediumRiskAnonymize,
		OutputLowRiskAnonymize:    row.OutputLowRiskAnonymize,
		EnableFormatDetection:     row.EnableFormatDetection,
		EnableSmartSegmentation:   row.EnableSmartSegmentation,
	}, nil
}

// ApplicationPolicy 实现 disposal.PolicyProvider。无记录时返回 nil。
func (s *Store) ApplicationPolicy(ctx context.Context, appID string) (*disposal.ApplicationPolicy, error) {
	var row ApplicationPolicy
	err := s.db.WithContext(ctx).Where("application_id = ?", appID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load application policy: %w", err)
	}

	return &disposal.ApplicationPolicy{
		InputHighRiskAction:       actionPtr(row.InputHighRiskAction),
		InputMediumRiskAction:     actionPtr(row.InputMediumRiskAction),
		InputLowRiskAction:        actionPtr(row.InputLowRiskAction),
		OutputHighRiskAnonymize:   row.OutputHighRiskAnonymize,
		OutputMediumRiskAnonymize: row.OutputMediumRiskAnonymize,
		OutputLowRiskAnonymize:    row.OutputLowRiskAnonymize,
		EnableFormatDetection:     row.EnableFormatDetection,
		EnableSmartSegmentation:   row.EnableSmartSegmentation,
		PrivateModelID:            row.PrivateModelID,
	}, nil
}

// PrivateModels 实现 disposal.PolicyProvider。
func (s *Store) PrivateModels(ctx context.Context, tenantID string) ([]disposal.PrivateModel, error) {
	var rows []PrivateModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load private models: %w", err)
	}

	models := make([]disposal.PrivateModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, disposal.PrivateModel{
			ID:        row.ID,
			Name:      row.Name,
			BaseURL:   row.BaseURL,
			APIKey:    row.APIKey,
			Model:     row.Model,
			IsDefault: row.IsDefault,
			Active:    row.Active,
		})
	}
	return models, nil
}

// Templates 实现 answer.Provider。tenantID 为空返回全局模板。
func (s *Store) Templates(ctx context.Context, tenantID string) ([]answer.Template, error) {
	var rows []AnswerTemplate
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load answer templates: %w", err)
	}

	templates := make([]answer.Template, 0, len(rows))
	for _, row := range rows {
		content := map[string]string{}
		if row.Content != "" {
			if err := json.Unmarshal([]byte(row.Content), &content); err != nil {
				s.logger.Warn("invalid template content, template skipped",
					zap.String("template_id", row.ID), zap.Error(err))
				continue
			}
		}
		templates = append(templates, answer.Template{
			Category:  row.Category,
			IsDefault: row.IsDefault,
			Content:   content,
			Enabled:   row.Enabled,
		})
	}
	return templates, nil
}

func actionPtr(s *string) *types.SuggestAction {
	if s == nil {
		return nil
	}
	a := types.SuggestAction(*s)
	return &a
}
