// Package utils provides small helpers shared across the client subsystem:
// secure random identifiers and backoff timing.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateState generates a 32-byte cryptographically secure random value,
// hex encoded, for use as an OAuth state parameter.
func GenerateState() (string, error) {
	return GenerateRandomID(64)
}

// GenerateRandomID generates a cryptographically secure random hex ID of the
// given length. Each byte yields two hex characters, so odd lengths come out
// one character short.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
