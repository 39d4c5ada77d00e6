package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskHigh.AtLeast(RiskMedium))
	assert.True(t, RiskMedium.AtLeast(RiskMedium))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
	assert.Equal(t, 0, RiskNone.Rank())
	assert.Equal(t, 3, RiskHigh.Rank())

	// 未知值按 no_risk 处理
	assert.Equal(t, 0, RiskLevel("bogus").Rank())
	assert.False(t, RiskLevel("bogus").Valid())
}

func TestMaxRiskLevel(t *testing.T) {
	assert.Equal(t, RiskNone, MaxRiskLevel())
	assert.Equal(t, RiskHigh, MaxRiskLevel(RiskLow, RiskHigh, RiskMedium))
	assert.Equal(t, RiskMedium, MaxRiskLevel(RiskNone, RiskMedium))
}

func TestCategoryResultMerge(t *testing.T) {
	a := CategoryResult{RiskLevel: RiskLow, Categories: []string{"Insults"}}
	b := CategoryResult{RiskLevel: RiskHigh, Categories: []string{"Terrorism", "Insults"}}
	a.Merge(b)

	assert.Equal(t, RiskHigh, a.RiskLevel)
	assert.Equal(t, []string{"Insults", "Terrorism"}, a.Categories)
}

func TestBuiltinTaxonomy(t *testing.T) {
	require.Len(t, BuiltinRiskLevels, 21)
	require.Len(t, BuiltinCategoryNames, 21)

	for _, tag := range []string{"S2", "S3", "S5", "S9", "S15", "S17"} {
		assert.Equal(t, RiskHigh, BuiltinRiskLevels[tag], tag)
	}
	for _, tag := range []string{"S4", "S6", "S7", "S16"} {
		assert.Equal(t, RiskMedium, BuiltinRiskLevels[tag], tag)
	}
	assert.Equal(t, RiskLow, BuiltinRiskLevels["S10"])

	assert.True(t, IsSecurityTag("S9"))
	assert.False(t, IsSecurityTag("S2"))
}

func TestSortTags(t *testing.T) {
	tags := []string{"S12", "S2", "S9", "S21"}
	SortTags(tags)
	assert.Equal(t, []string{"S2", "S9", "S12", "S21"}, tags)
}

func TestTagNumber(t *testing.T) {
	assert.Equal(t, 12, TagNumber("S12"))
	assert.Equal(t, 0, TagNumber("X1"))
	assert.Equal(t, 0, TagNumber("Sxx"))
}

func TestRecomputeOverall(t *testing.T) {
	r := NewSafeResult("guardrails-test")
	assert.True(t, r.IsSafe())

	r.Data.RiskLevel = RiskMedium
	r.Security.RiskLevel = RiskHigh
	r.RecomputeOverall()
	assert.Equal(t, RiskHigh, r.OverallRiskLevel)
	assert.False(t, r.IsSafe())
}

func TestMessageText(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		m := NewUserMessage("hello")
		assert.Equal(t, "hello", m.Text())
	})

	t.Run("with images", func(t *testing.T) {
		m := NewUserMessage("describe this").WithImage(ImageContent{Type: "url", URL: "https://x/img.png"})
		assert.Equal(t, "describe this\n[Image]", m.Text())
		assert.True(t, m.HasImages())
	})
}

func TestConversationHelpers(t *testing.T) {
	msgs := []Message{
		NewUserMessage("first"),
		NewAssistantMessage("reply"),
		NewUserMessage("second"),
	}
	assert.Equal(t, "second", LastUserContent(msgs))
	assert.Equal(t, "reply", LastAssistantContent(msgs))
	assert.Equal(t, []string{"first", "second"}, UserContents(msgs))
	assert.False(t, HasImages(msgs))
}
