// Package databases holds the per-zone versioned entity stores, the zone
// registry, and the deterministic genesis synthesizer.
package databases

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Entity is one versioned cell record. Index is nil until the storage
// service allocates one; Ownership is nil for unowned rows. PositionZ is the
// zone id, carried on the wire but never persisted (the store itself is the
// zone). Exists is a transient hint for renderers: false marks a synthesized
// genesis row that has no backing storage yet.
type Entity struct {
	Index       *int64          `json:"index"`
	Iter        int64           `json:"iter"`
	UUID        string          `json:"uuid"`
	State       int64           `json:"state"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PositionX   int64           `json:"positionX"`
	PositionY   int64           `json:"positionY"`
	PositionZ   int             `json:"positionZ"`
	Aesthetics  json.RawMessage `json:"aesthetics"`
	Ownership   *string         `json:"ownership"`
	Minted      bool            `json:"minted"`
	Timestamp   float64         `json:"timestamp"`
	Exists      *bool           `json:"exists,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (e Entity) Clone() Entity {
	out := e
	if e.Index != nil {
		v := *e.Index
		out.Index = &v
	}
	if e.Ownership != nil {
		v := *e.Ownership
		out.Ownership = &v
	}
	if e.Exists != nil {
		v := *e.Exists
		out.Exists = &v
	}
	out.Aesthetics = append(json.RawMessage(nil), e.Aesthetics...)
	return out
}

// OwnedBy reports whether the entity's ownership equals the given principal.
func (e Entity) OwnedBy(principal string) bool {
	return e.Ownership != nil && *e.Ownership == principal
}

func cacheKey(index, iter int64) string {
	return fmt.Sprintf("%d:%d", index, iter)
}

// entityColumns is the persisted column list, in scan order. index and iter
// are SQL keywords and stay quoted everywhere.
const entityColumns = `"index", "iter", uuid, state, name, description, positionX, positionY, aesthetics, ownership, minted, timestamp`

// aestheticsToText prepares the aesthetics value for the TEXT column: a JSON
// string value is stored as its bare text, everything else as its JSON
// serialization. Absent aesthetics store as an empty object.
func aestheticsToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// textToAesthetics reverses aestheticsToText. Stored text that is not valid
// JSON comes back as an empty object.
func textToAesthetics(text string) json.RawMessage {
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	return json.RawMessage("{}")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity reads one row selected with entityColumns.
func scanEntity(row rowScanner) (Entity, error) {
	var (
		e          Entity
		index      int64
		aesthetics string
		ownership  sql.NullString
		minted     int64
		timestamp  int64
	)
	err := row.Scan(
		&index, &e.Iter, &e.UUID, &e.State, &e.Name, &e.Description,
		&e.PositionX, &e.PositionY, &aesthetics, &ownership, &minted, &timestamp,
	)
	if err != nil {
		return Entity{}, err
	}
	e.Index = &index
	e.Aesthetics = textToAesthetics(aesthetics)
	if ownership.Valid {
		e.Ownership = &ownership.String
	}
	e.Minted = minted != 0
	e.Timestamp = float64(timestamp)
	return e, nil
}

// writeArgs lays out the entity's column values for INSERT, matching
// entityColumns order.
func writeArgs(e Entity) []any {
	var ownership any
	if e.Ownership != nil {
		ownership = *e.Ownership
	}
	minted := 0
	if e.Minted {
		minted = 1
	}
	return []any{
		*e.Index, e.Iter, e.UUID, e.State, e.Name, e.Description,
		e.PositionX, e.PositionY, aestheticsToText(e.Aesthetics),
		ownership, minted, int64(e.Timestamp),
	}
}
