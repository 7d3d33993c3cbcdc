package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectIDStable(t *testing.T) {
	a := ProjectIDFor("/home/user/project")
	b := ProjectIDFor("/home/user/project")
	c := ProjectIDFor("/home/user/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, ProjectIDLen)
}

func TestProjectIDCleansPath(t *testing.T) {
	assert.Equal(t,
		ProjectIDFor("/home/user/project"),
		ProjectIDFor("/home/user/project/"))
	assert.Equal(t,
		ProjectIDFor("/home/user/project"),
		ProjectIDFor("/home/user/./project"))
}

func TestNewIDTimeOrdered(t *testing.T) {
	first := NewID()
	second := NewID()
	require.True(t, ValidID(first))
	require.True(t, ValidID(second))
	// UUIDv7 sorts lexicographically by creation time.
	assert.Less(t, first, second)
}

func TestContentHashDeterministic(t *testing.T) {
	h1 := ContentHash("Use spaces, not tabs")
	h2 := ContentHash("Use spaces, not tabs")
	h3 := ContentHash("Use tabs, not spaces")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestSimHashNearDuplicates(t *testing.T) {
	a := SimHash64("the project uses two space indentation for all source files")
	b := SimHash64("the project uses two space indentation for all source file")
	c := SimHash64("watcher lock files live under the data directory")

	assert.Less(t, HammingDistance(a, b), HammingDistance(a, c))
}

func TestSimHashRoundTrip(t *testing.T) {
	h := SimHash64("some content")
	assert.Equal(t, h, SimHashFromBytes(SimHashBytes(h)))
}

func TestMemoryIsActive(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(*Memory)
		active bool
	}{
		{"fresh", func(m *Memory) {}, true},
		{"deleted", func(m *Memory) { m.IsDeleted = true }, false},
		{"expired", func(m *Memory) { m.ValidUntil = &past }, false},
		{"not yet expired", func(m *Memory) { m.ValidUntil = &future }, true},
		{"superseded", func(m *Memory) { m.SupersededBy = NewID() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory("abcd1234abcd1234", "content", SectorSemantic, TierProject)
			tt.mutate(m)
			assert.Equal(t, tt.active, m.IsActive(now))
		})
	}
}

func TestMemoryTypeDefaultSector(t *testing.T) {
	assert.Equal(t, SectorEmotional, MemoryTypePreference.DefaultSector())
	assert.Equal(t, SectorSemantic, MemoryTypeDecision.DefaultSector())
	assert.Equal(t, SectorProcedural, MemoryTypeGotcha.DefaultSector())
	assert.Equal(t, SectorReflective, MemoryTypeTurnSummary.DefaultSector())
	assert.Equal(t, SectorEpisodic, MemoryTypeTaskCompletion.DefaultSector())
}

func TestParseSector(t *testing.T) {
	s, err := ParseSector("episodic")
	require.NoError(t, err)
	assert.Equal(t, SectorEpisodic, s)

	_, err = ParseSector("bogus")
	assert.Error(t, err)
}

func TestSignalCategoryExtractable(t *testing.T) {
	assert.True(t, SignalCorrection.Extractable())
	assert.True(t, SignalPreference.Extractable())
	assert.False(t, SignalQuestion.Extractable())
	assert.False(t, SignalOther.Extractable())
}
