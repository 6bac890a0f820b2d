// Package id generates time-ordered identifiers for operations and traces.
package id

import (
	"github.com/google/uuid"
)

// ID is the identifier type used for operation correlation.
type ID = uuid.UUID

// New generates a UUIDv7 so operation IDs sort by start time in logs.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
