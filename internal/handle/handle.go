// Package handle defines the opaque identifiers used for nodes, cached
// universes and bodies.
package handle

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle is a 128-bit identifier. The zero Handle means "absent".
//
// Handles are comparable and usable as map keys. Text and JSON forms are
// the canonical hyphenated UUID string; the zero Handle encodes as "".
type Handle struct {
	id uuid.UUID
}

// Nil is the zero Handle.
var Nil = Handle{}

// New returns a random (v4) Handle.
func New() Handle {
	return Handle{id: uuid.New()}
}

// FromUUID wraps an existing UUID.
func FromUUID(u uuid.UUID) Handle {
	return Handle{id: u}
}

// Parse parses the canonical string form of a Handle.
func Parse(s string) (Handle, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse handle %q: %w", s, err)
	}
	return Handle{id: u}, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with literal inputs.
func MustParse(s string) Handle {
	h, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

// String returns the canonical hyphenated form, or "" for the zero Handle.
func (h Handle) String() string {
	if h.IsZero() {
		return ""
	}
	return h.id.String()
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

// UUID returns the underlying UUID.
func (h Handle) UUID() uuid.UUID {
	return h.id
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*h = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Less orders handles by their string form, for stable listings.
func Less(a, b Handle) bool {
	return a.String() < b.String()
}
