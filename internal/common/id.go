package common

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateSessionID generates a unique session identifier.
func GenerateSessionID() string {
	return "sess_" + uuid.NewString()
}

// GenerateToken generates a secure random token for authentication.
// The token is 32 bytes (64 hex characters).
func GenerateToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
