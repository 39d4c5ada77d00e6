package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openguardrails/openguardrails-sub000/disposal"
	"github.com/openguardrails/openguardrails-sub000/entity"
	"github.com/openguardrails/openguardrails-sub000/keyword"
	"github.com/openguardrails/openguardrails-sub000/riskconfig"
	"github.com/openguardrails/openguardrails-sub000/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	s := NewStore(db, zap.NewNop())
	require.NoError(t, s.AutoMigrate())
	return s
}

func (s *Store) mustCreate(t *testing.T, value any) {
	t.Helper()
	require.NoError(t, s.db.Create(value).Error)
}

func TestKeywordListsScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.mustCreate(t, &KeywordList{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Name: "App Blacklist", Kind: "blacklist", RiskLevel: "high_risk",
		Keywords: `["forbidden"]`, Enabled: true,
	})
	s.mustCreate(t, &KeywordList{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "",
		Name: "Tenant Whitelist", Kind: "whitelist",
		Keywords: `["greeting"]`, Enabled: true,
	})
	s.mustCreate(t, &KeywordList{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a2",
		Name: "Other App", Kind: "blacklist", Keywords: `["x"]`, Enabled: true,
	})
	s.mustCreate(t, &KeywordList{
		ID: uuid.NewString(), TenantID: "t2", ApplicationID: "",
		Name: "Other Tenant", Kind: "blacklist", Keywords: `["y"]`, Enabled: true,
	})

	lists, err := s.KeywordLists(ctx, "t1", "a1")
	require.NoError(t, err)
	require.Len(t, lists, 2)

	names := []string{lists[0].Name, lists[1].Name}
	assert.Contains(t, names, "App Blacklist")
	assert.Contains(t, names, "Tenant Whitelist")

	for _, l := range lists {
		if l.Kind == keyword.KindBlacklist {
			assert.Equal(t, types.RiskHigh, l.RiskLevel)
			assert.Equal(t, []string{"forbidden"}, l.Keywords)
		}
	}
}

func TestKeywordListsSkipsInvalidPayload(t *testing.T) {
	s := newTestStore(t)

	s.mustCreate(t, &KeywordList{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Name: "Broken", Kind: "blacklist", Keywords: `{not json`, Enabled: true,
	})
	s.mustCreate(t, &KeywordList{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Name: "Valid", Kind: "blacklist", Keywords: `["ok"]`, Enabled: true,
	})

	lists, err := s.KeywordLists(context.Background(), "t1", "a1")
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "Valid", lists[0].Name)
}

func TestEntityTypesReturnsBuiltinsByDefault(t *testing.T) {
	s := newTestStore(t)

	got, err := s.EntityTypes(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, entity.BuiltinTypes(), got)
}

func TestEntityTypesMergesCustomRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 覆盖内置邮箱类型并新增一个自定义类型
	s.mustCreate(t, &EntityType{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Code: "EMAIL_SYS", DisplayName: "Email", RiskLevel: "high_risk",
		Pattern: `[\w.+-]+@[\w-]+\.[\w.]+`, Method: "replace",
		MethodConfig: `{"replacement":"<EMAIL>"}`,
		CheckInput:   true, CheckOutput: false, Enabled: true,
	})
	s.mustCreate(t, &EntityType{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Code: "EMPLOYEE_ID", DisplayName: "Employee ID", RiskLevel: "low_risk",
		Pattern: `EMP\d{6}`, Method: "hash",
		CheckInput: true, CheckOutput: true, Enabled: true,
	})

	got, err := s.EntityTypes(ctx, "t1", "a1")
	require.NoError(t, err)
	require.Len(t, got, len(entity.BuiltinTypes())+1)

	byCode := make(map[string]entity.Type, len(got))
	for _, et := range got {
		byCode[et.Code] = et
	}
	email := byCode["EMAIL_SYS"]
	assert.Equal(t, types.RiskHigh, email.RiskLevel)
	assert.Equal(t, "<EMAIL>", email.Config.Replacement)
	assert.False(t, email.CheckOutput)

	custom := byCode["EMPLOYEE_ID"]
	assert.Equal(t, entity.MethodHash, custom.Method)
	assert.Equal(t, "EMPLOYEE_ID", got[len(got)-1].Code, "custom types append after builtins")
}

func TestEntityTypesRoundTripsGenAIFields(t *testing.T) {
	s := newTestStore(t)

	program := []byte(`{"entity_type":"PROJECT_NAME","ops":[{"kind":"hash"}]}`)
	s.mustCreate(t, &EntityType{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Code: "PROJECT_NAME", DisplayName: "Project Name", RiskLevel: "high_risk",
		Recognition: "genai", Definition: "internal project codenames",
		Method: "genai_code", Program: program, ProgramHash: "deadbeef",
		CheckInput: true, CheckOutput: true, Enabled: true,
	})

	got, err := s.EntityTypes(context.Background(), "t1", "a1")
	require.NoError(t, err)

	byCode := make(map[string]entity.Type, len(got))
	for _, et := range got {
		byCode[et.Code] = et
	}
	project := byCode["PROJECT_NAME"]
	assert.Equal(t, entity.RecognitionGenAI, project.RecognitionMethod())
	assert.Equal(t, "internal project codenames", project.Definition)
	assert.Equal(t, program, project.Program)
	assert.Equal(t, "deadbeef", project.ProgramHash)
	assert.Equal(t, entity.MethodGenAICode, project.Method)
}

func TestEntityTypesDropsDisabled(t *testing.T) {
	s := newTestStore(t)

	s.mustCreate(t, &EntityType{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "",
		Code: "EMAIL_SYS", Enabled: false,
	})

	got, err := s.EntityTypes(context.Background(), "t1", "a1")
	require.NoError(t, err)
	require.Len(t, got, len(entity.BuiltinTypes())-1)
	for _, et := range got {
		assert.NotEqual(t, "EMAIL_SYS", et.Code)
	}
}

func TestScannersSeedAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, SeedBuiltinScanners(s.db, "t1", "a1"))
	// 幂等
	require.NoError(t, SeedBuiltinScanners(s.db, "t1", "a1"))

	defs, err := s.Scanners(ctx, "t1", "a1")
	require.NoError(t, err)
	require.Len(t, defs, 21)

	assert.Equal(t, "S1", defs[0].Tag)
	assert.Equal(t, "S21", defs[20].Tag)
	assert.Equal(t, "Prompt Attacks", defs[8].Name)
	assert.Equal(t, types.RiskHigh, defs[8].RiskLevel)
	for _, d := range defs {
		assert.True(t, d.ScanPrompt)
		assert.True(t, d.ScanResponse)
	}
}

func TestScannersExcludesDisabled(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, SeedBuiltinScanners(s.db, "t1", "a1"))
	err := s.db.Model(&Scanner{}).
		Where("tag = ?", "S9").
		Update("enabled", false).Error
	require.NoError(t, err)

	defs, err := s.Scanners(context.Background(), "t1", "a1")
	require.NoError(t, err)
	require.Len(t, defs, 20)
	for _, d := range defs {
		assert.NotEqual(t, "S9", d.Tag)
	}
}

func TestRiskConfigDefaultWhenMissing(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.RiskConfig(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, riskconfig.DefaultConfig(), cfg)
}

func TestRiskConfigPrefersApplicationScope(t *testing.T) {
	s := newTestStore(t)

	s.mustCreate(t, &RiskConfig{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "",
		Switches: `{"S1":false}`, TriggerLevel: "low",
	})
	s.mustCreate(t, &RiskConfig{
		ID: uuid.NewString(), TenantID: "t1", ApplicationID: "a1",
		Switches: `{"S9":false}`, TriggerLevel: "high",
	})

	cfg, err := s.RiskConfig(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, riskconfig.TriggerHigh, cfg.TriggerLevel)
	assert.False(t, cfg.Enabled("S9"))
	assert.True(t, cfg.Enabled("S1"))
}

func TestTenantPolicyDefaultWhenMissing(t *testing.T) {
	s := newTestStore(t)

	pol, err := s.TenantPolicy(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, disposal.DefaultTenantPolicy(), pol)
}

func TestTenantPolicyStored(t *testing.T) {
	s := newTestStore(t)

	s.mustCreate(t, &TenantPolicy{
		TenantID:                "t1",
		InputHighRiskAction:     "reject",
		InputMediumRiskAction:   "block",
		InputLowRiskAction:      "pass",
		OutputLowRiskAnonymize:  true,
		EnableFormatDetection:   true,
		EnableSmartSegmentation: false,
		Language:                "zh",
	})

	pol, err := s.TenantPolicy(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ActionReject, pol.InputHighRiskAction)
	assert.Equal(t, types.ActionBlock, pol.InputMediumRiskAction)
	assert.Equal(t, types.ActionPass, pol.InputLowRiskAction)
	assert.True(t, pol.OutputLowRiskAnonymize)
	assert.False(t, pol.EnableSmartSegmentation)
}

func TestApplicationPolicyNilWhenMissing(t *testing.T) {
	s := newTestStore(t)

	pol, err := s.ApplicationPolicy(context.Background(), "a1")
	require.NoError(t, err)
	assert.Nil(t, pol)
}

func TestApplicationPolicyOverrides(t *testing.T) {
	s := newTestStore(t)

	action := "anonymize"
	anonymize := false
	s.mustCreate(t, &ApplicationPolicy{
		ApplicationID:           "a1",
		TenantID:                "t1",
		InputMediumRiskAction:   &action,
		OutputHighRiskAnonymize: &anonymize,
		PrivateModelID:          "pm-1",
	})

	pol, err := s.ApplicationPolicy(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, pol)
	assert.Nil(t, pol.InputHighRiskAction)
	require.NotNil(t, pol.InputMediumRiskAction)
	assert.Equal(t, types.ActionAnonymize, *pol.InputMediumRiskAction)
	require.NotNil(t, pol.OutputHighRiskAnonymize)
	assert.False(t, *pol.OutputHighRiskAnonymize)
	assert.Equal(t, "pm-1", pol.PrivateModelID)
}

func TestPrivateModels(t *testing.T) {
	s := newTestStore(t)

	s.mustCreate(t, &PrivateModel{
		ID: "pm-1", TenantID: "t1", Name: "Primary",
		BaseURL: "https://llm.internal", Model: "private-llm",
		IsDefault: true, Active: true,
	})
	s.mustCreate(t, &PrivateModel{
		ID: "pm-2", TenantID: "t2", Name: "Other", Active: true,
	})

	models, err := s.PrivateModels(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "pm-1", models[0].ID)
	assert.Equal(t, "private-llm", models[0].Model)
	assert.True(t, models[0].IsDefault)
}

func TestTemplatesGlobalAndTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.mustCreate(t, &AnswerTemplate{
		ID: uuid.NewString(), TenantID: "", Category: "default", IsDefault: true,
		Content: `{"en":"Sorry, I can't help with that.","zh":"很抱歉，我无法协助处理此请求。"}`,
		Enabled: true,
	})
	s.mustCreate(t, &AnswerTemplate{
		ID: uuid.NewString(), TenantID: "t1", Category: "S9",
		Content: `{"en":"Prompt attack denied."}`, Enabled: true,
	})
	s.mustCreate(t, &AnswerTemplate{
		ID: uuid.NewString(), TenantID: "t1", Category: "S2",
		Content: `{broken`, Enabled: true,
	})

	global, err := s.Templates(ctx, "")
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.True(t, global[0].IsDefault)
	assert.Equal(t, "很抱歉，我无法协助处理此请求。", global[0].Localized("zh"))

	tenant, err := s.Templates(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, tenant, 1, "template with invalid content is skipped")
	assert.Equal(t, "S9", tenant[0].Category)
}

func TestQueryErrorsAreWrapped(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	s := NewStore(db, zap.NewNop())

	dbErr := errors.New("connection reset")
	mock.ExpectQuery("SELECT").WillReturnError(dbErr)

	_, err = s.KeywordLists(context.Background(), "t1", "a1")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "load keyword lists")
	assert.NoError(t, mock.ExpectationsWereMet())
}
