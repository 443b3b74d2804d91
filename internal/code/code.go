// Package code mints retrieval codes for stored files.
package code

import (
	"strings"

	"github.com/google/uuid"
)

// Length is the number of characters in a generated code.
const Length = 8

// Generate returns a short URL-safe code: the first group of a random UUID.
// Uniqueness is not checked here; the store rejects duplicates.
func Generate() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
