// Package tarot provides the ordered card list used to name entity
// iterations, together with a deterministic shuffle so a given cell always
// deals the same sequence.
package tarot

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

var MajorArcana = []string{
	"0 - The Fool",
	"I - The Magician",
	"II - The High Priestess",
	"III - The Empress",
	"IV - The Emperor",
	"V - The Hierophant",
	"VI - The Lovers",
	"VII - The Chariot",
	"VIII - Strength",
	"IX - The Hermit",
	"X - Wheel of Fortune",
	"XI - Justice",
	"XII - The Hanged Man",
	"XIII - Death",
	"XIV - Temperance",
	"XV - The Devil",
	"XVI - The Tower",
	"XVII - The Star",
	"XVIII - The Moon",
	"XIX - The Sun",
	"XX - Judgement",
	"XXI - The World",
}

var majorMeanings = map[string]string{
	"0 - The Fool":            "New beginnings, innocence, a leap of faith.",
	"I - The Magician":        "Willpower, resourcefulness, manifestation.",
	"II - The High Priestess": "Intuition, hidden knowledge, mystery.",
	"III - The Empress":       "Abundance, nurture, creation.",
	"IV - The Emperor":        "Authority, structure, stability.",
	"V - The Hierophant":      "Tradition, guidance, conformity.",
	"VI - The Lovers":         "Union, choice, alignment of values.",
	"VII - The Chariot":       "Determination, control, victory.",
	"VIII - Strength":         "Courage, patience, inner power.",
	"IX - The Hermit":         "Solitude, introspection, searching.",
	"X - Wheel of Fortune":    "Cycles, fate, turning points.",
	"XI - Justice":            "Fairness, truth, consequence.",
	"XII - The Hanged Man":    "Surrender, new perspective, suspension.",
	"XIII - Death":            "Endings, transformation, renewal.",
	"XIV - Temperance":        "Balance, moderation, patience.",
	"XV - The Devil":          "Bondage, materialism, temptation.",
	"XVI - The Tower":         "Upheaval, sudden change, revelation.",
	"XVII - The Star":         "Hope, renewal, inspiration.",
	"XVIII - The Moon":        "Illusion, uncertainty, the subconscious.",
	"XIX - The Sun":           "Joy, vitality, success.",
	"XX - Judgement":          "Reckoning, awakening, absolution.",
	"XXI - The World":         "Completion, wholeness, fulfillment.",
}

var minorRanks = []string{
	"Ace", "Two", "Three", "Four", "Five",
	"Six", "Seven", "Eight", "Nine", "Ten",
	"Page", "Knight", "Queen", "King",
}

var suitMeanings = map[string]string{
	"Wands":     "Creativity, passion, action.",
	"Cups":      "Emotions, relationships, intuition.",
	"Swords":    "Intellect, challenges, truth.",
	"Pentacles": "Material world, work, finances.",
}

var suits = []string{"Wands", "Cups", "Swords", "Pentacles"}

// Deck returns the full ordered 78-card deck: major arcana first, then the
// minor arcana suit by suit.
func Deck() []string {
	deck := make([]string, 0, len(MajorArcana)+len(suits)*len(minorRanks))
	deck = append(deck, MajorArcana...)
	for _, suit := range suits {
		for _, rank := range minorRanks {
			deck = append(deck, rank+" of "+suit)
		}
	}
	return deck
}

// Meaning resolves a card to its reading. Major arcana carry individual
// meanings; minor arcana inherit their suit's.
func Meaning(card string) string {
	if m, ok := majorMeanings[card]; ok {
		return m
	}
	for _, suit := range suits {
		if len(card) >= len(suit) && card[len(card)-len(suit):] == suit {
			return suitMeanings[suit]
		}
	}
	return ""
}

// ShuffledFor deals the deck in the deterministic order for key. The seed
// discipline matches the genesis synthesizer: SHA-256 of the key truncated
// to 32 bits.
func ShuffledFor(key string) []string {
	sum := sha256.Sum256([]byte(key))
	seed := binary.BigEndian.Uint32(sum[len(sum)-4:])
	rng := rand.New(rand.NewSource(int64(seed)))

	deck := Deck()
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}
