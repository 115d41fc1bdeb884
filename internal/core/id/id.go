// Package id provides entity identifiers. Identifiers are UUIDv7 so rows
// inserted later sort later; the zero value marks an unsaved entity.
package id

import (
	"github.com/google/uuid"
)

type ID = uuid.UUID

// New returns a fresh UUIDv7, or a random v4 if the clock source fails.
func New() ID {
	if v, err := uuid.NewV7(); err == nil {
		return v
	}
	return uuid.New()
}

func Parse(s string) (ID, error) { return uuid.Parse(s) }

func Nil() ID { return uuid.Nil }

func IsNil(v ID) bool { return v == uuid.Nil }

// FromAny converts a scanned column value. pgx returns uuid columns as
// [16]byte and text columns as string.
func FromAny(v any) (ID, bool) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, true
	case [16]byte:
		return uuid.UUID(t), true
	case []byte:
		if len(t) == 16 {
			u, err := uuid.FromBytes(t)
			return u, err == nil
		}
		u, err := uuid.ParseBytes(t)
		return u, err == nil
	case string:
		u, err := uuid.Parse(t)
		return u, err == nil
	}
	return uuid.Nil, false
}
