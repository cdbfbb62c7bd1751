// Package id defines the UUID type used throughout the runtime to identify
// sessions, nodes, computations, message classes and message instances.
package id

import (
	"github.com/google/uuid"
)

// UUID is a 128-bit identifier with a canonical 8-4-4-4-12 hex form. It is
// comparable, hashable and totally ordered (byte-lexicographic), which is
// the ordering google/uuid.UUID already gives a [16]byte array.
type UUID = uuid.UUID

// Nil is the all-zero UUID, used as the null identifier throughout the
// address and routing model.
var Nil = uuid.Nil

// New returns a fresh random (v4) UUID.
func New() UUID {
	return uuid.New()
}

// Parse parses the canonical 8-4-4-4-12 string form.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// MustParse is like Parse but panics on error; reserved for constants built
// from literal strings known at compile time (e.g. well-known class ids).
func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// FromBytes reconstructs a UUID from its 16 raw bytes, as read off the wire.
func FromBytes(b []byte) (UUID, error) {
	return uuid.FromBytes(b)
}

// IsNil reports whether u is the null identifier.
func IsNil(u UUID) bool {
	return u == Nil
}
