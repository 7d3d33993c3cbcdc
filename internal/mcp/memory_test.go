package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/core"
)

func TestBuildMemoryDefaults(t *testing.T) {
	m, err := buildMemory("abcd1234abcd1234", RememberInput{Content: "prefers pnpm"}, "model-x")
	require.NoError(t, err)
	assert.Equal(t, core.SectorSemantic, m.Sector)
	assert.Equal(t, core.TierProject, m.Tier)
	assert.Equal(t, 0.5, m.Importance)
	assert.Equal(t, "model-x", m.EmbeddingModel)
	assert.NotEmpty(t, m.ContentHash)
}

func TestBuildMemoryValidation(t *testing.T) {
	_, err := buildMemory("p", RememberInput{}, "m")
	assert.Error(t, err, "content required")

	_, err = buildMemory("p", RememberInput{Content: "x", Sector: "bogus"}, "m")
	assert.Error(t, err)

	_, err = buildMemory("p", RememberInput{Content: "x", Importance: 2}, "m")
	assert.Error(t, err)

	m, err := buildMemory("p", RememberInput{Content: "x", Sector: "emotional", Importance: 0.9}, "m")
	require.NoError(t, err)
	assert.Equal(t, core.SectorEmotional, m.Sector)
	assert.Equal(t, 0.9, m.Importance)
}
