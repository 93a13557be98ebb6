// Package knol derives a stable identity for a sentence pair so re-imports and
// repeated study input can be recognised.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize joins both sides of a pair after cleaning each part.
// It lowercases, normalizes line endings and collapses runs of whitespace.
func Normalize(original, translation string) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.Join(strings.Fields(p), " ")
	}

	// Joined with a newline so "ab"+"c" and "a"+"bc" hash differently.
	return normalizePart(original) + "\n" + normalizePart(translation)
}

// Hash returns the SHA-256 hash of the normalized pair as a hex string.
func Hash(original, translation string) string {
	hashBytes := sha256.Sum256([]byte(Normalize(original, translation)))
	return fmt.Sprintf("%x", hashBytes)
}
