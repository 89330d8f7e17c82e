package security

import (
	"strings"

	"github.com/google/uuid"
)

// IsValidUUID4 reports whether id is a canonical hyphenated UUIDv4. The
// round-trip comparison rejects URN and braced forms that the parser would
// otherwise accept.
func IsValidUUID4(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	if u.Version() != 4 || u.Variant() != uuid.RFC4122 {
		return false
	}
	return u.String() == strings.ToLower(id)
}
