package databases

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"octogrid/pkg/zonetables"
)

// DeterministicRNG seeds a PRNG from the colon-joined key parts: SHA-256 of
// the key, truncated to its low 32 bits. The same key always yields the same
// draw sequence, across processes and restarts.
func DeterministicRNG(parts ...any) *rand.Rand {
	segs := make([]string, len(parts))
	for i, p := range parts {
		segs[i] = fmt.Sprint(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(segs, ":")))
	seed := binary.BigEndian.Uint32(sum[len(sum)-4:])
	return rand.New(rand.NewSource(int64(seed)))
}

const aestheticChannels = 8

// DeterministicAesthetic synthesizes the visual identity of cell (x, y) in
// zone z: eight color channels from the zone's palette and eight glyphs from
// the zone's glyph set, all drawn from the cell-keyed PRNG in fixed order.
func DeterministicAesthetic(x, y, z int) json.RawMessage {
	rng := DeterministicRNG(x, y, z)
	colors := zonetables.ZoneColors[z]
	glyphs := zonetables.ZoneGlyphs[z]

	bar := make(map[string]string, aestheticChannels)
	for i := 0; i < aestheticChannels; i++ {
		bar[fmt.Sprintf("channel_%d", i)] = colors[rng.Intn(len(colors))]
	}
	drawn := make(map[string]string, aestheticChannels)
	for i := 0; i < aestheticChannels; i++ {
		drawn[fmt.Sprintf("glyph_%d", i)] = glyphs[rng.Intn(len(glyphs))]
	}

	blob, err := json.Marshal(map[string]any{"bar": bar, "glyphs": drawn})
	if err != nil {
		return json.RawMessage("{}")
	}
	return blob
}

// GenesisEntity synthesizes the iter-0 record for a cell that has never been
// written: unowned, unminted, and flagged exists=false so renderers can tell
// it apart from stored rows. Everything except the timestamp is a pure
// function of (x, y, z).
func GenesisEntity(x, y, z int) Entity {
	exists := false
	return Entity{
		Index:       nil,
		Iter:        0,
		UUID:        deterministicUUID(DeterministicRNG(x, y, z)),
		State:       0,
		Name:        "Void",
		Description: "Genesis",
		PositionX:   int64(x),
		PositionY:   int64(y),
		PositionZ:   z,
		Aesthetics:  DeterministicAesthetic(x, y, z),
		Ownership:   nil,
		Minted:      false,
		Timestamp:   float64(time.Now().UnixNano()) / float64(time.Second),
		Exists:      &exists,
	}
}

// deterministicUUID formats 128 PRNG bits as a canonical UUIDv4.
func deterministicUUID(rng *rand.Rand) string {
	var b [16]byte
	rng.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
