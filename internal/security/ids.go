package security

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// Request ID constraints for client-supplied X-Request-ID values.
const (
	MinRequestIDLength = 8
	MaxRequestIDLength = 64
)

var validRequestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// blockedIDPatterns are rejected even when the character set matches.
var blockedIDPatterns = []string{
	"__proto__",
	"constructor",
}

// GenerateID creates a cryptographically random 32-character hex identifier.
// Used for capture session IDs and request IDs.
func GenerateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateRequestID checks that a client-supplied request ID is safe to echo
// back and write to logs. Returns an error message if invalid, empty string if valid.
func ValidateRequestID(id string) string {
	if id == "" {
		return "request ID is required"
	}
	if len(id) < MinRequestIDLength {
		return "request ID too short (min 8 characters)"
	}
	if len(id) > MaxRequestIDLength {
		return "request ID too long (max 64 characters)"
	}
	if !validRequestIDPattern.MatchString(id) {
		return "request ID contains invalid characters (use alphanumeric, hyphens, underscores only)"
	}

	idLower := strings.ToLower(id)
	for _, pattern := range blockedIDPatterns {
		if strings.Contains(idLower, pattern) {
			return "request ID contains blocked pattern"
		}
	}
	return ""
}
