package crypto

import (
	"github.com/google/uuid"
)

// NewID returns a random 128-bit identifier in canonical UUID form.
func NewID() string {
	return uuid.NewString()
}

// NewOpaqueToken returns an unguessable bearer token with no embedded claims.
// It is exchanged for authenticated status by equality against the stored value.
func NewOpaqueToken() string {
	return uuid.NewString()
}

// IsWellFormed reports whether s is a canonical identifier or token.
func IsWellFormed(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
