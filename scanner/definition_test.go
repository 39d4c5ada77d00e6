package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openguardrails/openguardrails-sub000/types"
)

func TestRenderDefinitions(t *testing.T) {
	defs := []Definition{
		{Tag: "S10", Name: "Abusive Language", PackageType: PackageBasic},
		{Tag: "S2", Name: "Sensitive Political Topics", PackageType: PackagePremium},
		{Tag: "S23", Name: "Internal Codenames", Definition: "Mentions of unreleased project names", PackageType: PackageCustom},
	}

	lines := RenderDefinitions(defs)
	assert.Equal(t, []string{
		"S2: Sensitive Political Topics",
		"S10: Abusive Language",
		"S23: Internal Codenames. Mentions of unreleased project names",
	}, lines)
}

func TestJoinDefinitions(t *testing.T) {
	assert.Equal(t, "", JoinDefinitions(nil))
	assert.Equal(t, "S1: A \nS2: B \n", JoinDefinitions([]string{"S1: A", "S2: B"}))
}

func TestDefinitionAppliesTo(t *testing.T) {
	d := Definition{ScanPrompt: true, ScanResponse: false}
	assert.True(t, d.AppliesTo(types.DirectionInput))
	assert.False(t, d.AppliesTo(types.DirectionOutput))
}

func TestParseUnsafeTags(t *testing.T) {
	assert.Nil(t, ParseUnsafeTags("safe"))
	assert.Nil(t, ParseUnsafeTags("unsafe"))
	assert.Equal(t, []string{"S2", "S9"}, ParseUnsafeTags("unsafe\nS2, S9"))
	assert.Equal(t, []string{"S5"}, ParseUnsafeTags("  unsafe\nS5\n"))
	assert.Nil(t, ParseUnsafeTags("unexpected output"))
}
