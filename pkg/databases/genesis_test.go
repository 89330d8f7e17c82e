package databases

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"octogrid/pkg/zonetables"
)

func TestGenesisDeterminism(t *testing.T) {
	a := GenesisEntity(12, -3, 0)
	b := GenesisEntity(12, -3, 0)

	require.Equal(t, a.UUID, b.UUID)
	require.JSONEq(t, string(a.Aesthetics), string(b.Aesthetics))

	// Any coordinate change reseeds everything.
	c := GenesisEntity(12, -3, 1)
	require.NotEqual(t, a.UUID, c.UUID)
	d := GenesisEntity(13, -3, 0)
	require.NotEqual(t, a.UUID, d.UUID)
}

func TestGenesisFields(t *testing.T) {
	e := GenesisEntity(4, 7, 2)

	require.Nil(t, e.Index)
	require.Equal(t, int64(0), e.Iter)
	require.Equal(t, int64(0), e.State)
	require.Equal(t, "Void", e.Name)
	require.Equal(t, "Genesis", e.Description)
	require.Equal(t, int64(4), e.PositionX)
	require.Equal(t, int64(7), e.PositionY)
	require.Equal(t, 2, e.PositionZ)
	require.Nil(t, e.Ownership)
	require.False(t, e.Minted)
	require.NotNil(t, e.Exists)
	require.False(t, *e.Exists)

	u, err := uuid.Parse(e.UUID)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), u.Version())
}

func TestDeterministicAestheticShape(t *testing.T) {
	const zone = 3
	var parsed struct {
		Bar    map[string]string `json:"bar"`
		Glyphs map[string]string `json:"glyphs"`
	}
	require.NoError(t, json.Unmarshal(DeterministicAesthetic(1, 2, zone), &parsed))

	require.Len(t, parsed.Bar, aestheticChannels)
	require.Len(t, parsed.Glyphs, aestheticChannels)

	colors := make(map[string]struct{})
	for _, c := range zonetables.ZoneColors[zone] {
		colors[c] = struct{}{}
	}
	glyphs := make(map[string]struct{})
	for _, g := range zonetables.ZoneGlyphs[zone] {
		glyphs[g] = struct{}{}
	}
	for i := 0; i < aestheticChannels; i++ {
		c, ok := parsed.Bar[fmt.Sprintf("channel_%d", i)]
		require.True(t, ok)
		require.Contains(t, colors, c)
		g, ok := parsed.Glyphs[fmt.Sprintf("glyph_%d", i)]
		require.True(t, ok)
		require.Contains(t, glyphs, g)
	}
}
