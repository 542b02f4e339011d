package util

import (
	"github.com/google/uuid"
)

// GenerateID returns a random UUID v4 string.
func GenerateID() string {
	return uuid.NewString()
}

// GeneratePrefixedID returns a UUID with the given prefix, e.g. "wfp_<uuid>".
func GeneratePrefixedID(prefix string) string {
	return prefix + uuid.NewString()
}

// IsValidUUID reports whether s parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
